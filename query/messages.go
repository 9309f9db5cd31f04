package query

import (
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeGetMapping    = "relay.query.mapping.get"
	TypeCreditHistory = "relay.query.credits.history"
)

type GetMappingMessage struct {
	MappingID string
}

func (GetMappingMessage) Type() string { return TypeGetMapping }

func (m GetMappingMessage) Validate() error {
	if strings.TrimSpace(m.MappingID) == "" {
		return queryValidationError("mapping_id", "mapping id is required")
	}
	return nil
}

type CreditHistoryMessage struct {
	Email string
}

func (CreditHistoryMessage) Type() string { return TypeCreditHistory }

func (m CreditHistoryMessage) Validate() error {
	if core.NormalizeEmail(m.Email) == "" {
		return queryValidationError("email", "email is required")
	}
	return nil
}

// CreditHistory is a user's balance with its ledger, newest entry first.
type CreditHistory struct {
	User         core.User
	Transactions []core.Transaction
}
