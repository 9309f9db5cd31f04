package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	errDebitInsufficient = errors.New("sqlstore: insufficient credits")
	errDebitDuplicate    = errors.New("sqlstore: mapping already charged")
)

// CreditStore applies balance changes together with their ledger rows. A
// debit is conditional on the balance covering the amount and on the unique
// charge index of relay_transactions.
type CreditStore struct {
	db   *bun.DB
	repo repository.Repository[*transactionRecord]
}

func NewCreditStore(db *bun.DB) (*CreditStore, error) {
	repo, err := newRepository(db, "transaction", transactionHandlers())
	if err != nil {
		return nil, err
	}
	return &CreditStore{db: db, repo: repo}, nil
}

func (s *CreditStore) Debit(ctx context.Context, req core.DebitRequest) (core.DebitOutcome, error) {
	if s == nil || s.db == nil {
		return "", errNotConfigured
	}
	if req.Amount <= 0 {
		return core.DebitSkipped, nil
	}
	userID := strings.TrimSpace(req.UserID)
	mappingID := strings.TrimSpace(req.MappingID)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if mappingID != "" {
			charged, err := tx.NewSelect().
				Model((*transactionRecord)(nil)).
				Where("mapping_id = ?", mappingID).
				Where("delta < 0").
				Exists(ctx)
			if err != nil {
				return err
			}
			if charged {
				return errDebitDuplicate
			}
		}

		res, err := tx.NewUpdate().
			Model((*userRecord)(nil)).
			Set("credits = credits - ?", req.Amount).
			Set("updated_at = ?", nowUTC()).
			Where("id = ?", userID).
			Where("credits >= ?", req.Amount).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return errDebitInsufficient
		}

		record := &transactionRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Delta:     -req.Amount,
			Reason:    strings.TrimSpace(req.Reason),
			CreatedAt: nowUTC(),
		}
		if mappingID != "" {
			record.MappingID = &mappingID
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return errDebitDuplicate
			}
			return err
		}
		return nil
	})
	switch {
	case err == nil:
		return core.DebitApplied, nil
	case errors.Is(err, errDebitDuplicate):
		return core.DebitDuplicate, nil
	case errors.Is(err, errDebitInsufficient):
		return core.DebitInsufficient, nil
	default:
		return "", err
	}
}

func (s *CreditStore) Grant(ctx context.Context, userID string, amount int, reason string) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, errNotConfigured
	}
	if amount <= 0 {
		return core.Transaction{}, core.NewBadInputError("sqlstore: grant amount must be positive", map[string]any{"amount": amount})
	}
	userID = strings.TrimSpace(userID)
	record := &transactionRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     amount,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: nowUTC(),
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*userRecord)(nil)).
			Set("credits = credits + ?", amount).
			Set("updated_at = ?", nowUTC()).
			Where("id = ?", userID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: user %q", core.ErrNotFound, userID)
		}
		_, err = tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return transactionToDomain(record), nil
}

// ListTransactions returns the user's ledger, newest first.
func (s *CreditStore) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, transactionToDomain(record))
	}
	return out, nil
}

func transactionToDomain(record *transactionRecord) core.Transaction {
	if record == nil {
		return core.Transaction{}
	}
	return core.Transaction{
		ID:        record.ID,
		UserID:    record.UserID,
		Delta:     record.Delta,
		Reason:    record.Reason,
		MappingID: trimmedPtr(record.MappingID),
		CreatedAt: record.CreatedAt,
	}
}
