package query

import (
	"context"

	"github.com/goliatone/go-relay/core"
)

type MappingReader interface {
	GetMapping(ctx context.Context, id string) (core.Mapping, error)
}

type CreditHistoryReader interface {
	CreditHistory(ctx context.Context, email string) (core.User, []core.Transaction, error)
}

type GetMappingQuery struct {
	reader MappingReader
}

func NewGetMappingQuery(reader MappingReader) *GetMappingQuery {
	return &GetMappingQuery{reader: reader}
}

func (q *GetMappingQuery) Query(ctx context.Context, msg GetMappingMessage) (core.Mapping, error) {
	if q == nil || q.reader == nil {
		return core.Mapping{}, queryDependencyError("query: mapping reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Mapping{}, err
	}
	return q.reader.GetMapping(ctx, msg.MappingID)
}

type CreditHistoryQuery struct {
	reader CreditHistoryReader
}

func NewCreditHistoryQuery(reader CreditHistoryReader) *CreditHistoryQuery {
	return &CreditHistoryQuery{reader: reader}
}

func (q *CreditHistoryQuery) Query(ctx context.Context, msg CreditHistoryMessage) (CreditHistory, error) {
	if q == nil || q.reader == nil {
		return CreditHistory{}, queryDependencyError("query: credit history reader is required")
	}
	if err := msg.Validate(); err != nil {
		return CreditHistory{}, err
	}
	user, transactions, err := q.reader.CreditHistory(ctx, msg.Email)
	if err != nil {
		return CreditHistory{}, err
	}
	return CreditHistory{User: user, Transactions: transactions}, nil
}
