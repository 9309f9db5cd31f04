package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// recordHandlers builds the handler set shared by every relay table: string
// uuid primary keys stored in an "id" column.
func recordHandlers[T any](newRecord func() T, id func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			ptr := id(record)
			if ptr == nil {
				return uuid.Nil
			}
			return parseUUID(*ptr)
		},
		SetID: func(record T, value uuid.UUID) {
			if ptr := id(record); ptr != nil {
				*ptr = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			ptr := id(record)
			if ptr == nil {
				return ""
			}
			return strings.TrimSpace(*ptr)
		},
	}
}

func userHandlers() repository.ModelHandlers[*userRecord] {
	return recordHandlers(
		func() *userRecord { return &userRecord{} },
		func(record *userRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func workflowHandlers() repository.ModelHandlers[*workflowRecord] {
	return recordHandlers(
		func() *workflowRecord { return &workflowRecord{} },
		func(record *workflowRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func approvedSenderHandlers() repository.ModelHandlers[*approvedSenderRecord] {
	return recordHandlers(
		func() *approvedSenderRecord { return &approvedSenderRecord{} },
		func(record *approvedSenderRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func mappingHandlers() repository.ModelHandlers[*mappingRecord] {
	return recordHandlers(
		func() *mappingRecord { return &mappingRecord{} },
		func(record *mappingRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func transactionHandlers() repository.ModelHandlers[*transactionRecord] {
	return recordHandlers(
		func() *transactionRecord { return &transactionRecord{} },
		func(record *transactionRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func webhookDeliveryHandlers() repository.ModelHandlers[*webhookDeliveryRecord] {
	return recordHandlers(
		func() *webhookDeliveryRecord { return &webhookDeliveryRecord{} },
		func(record *webhookDeliveryRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
