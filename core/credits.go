package core

import (
	"context"
	"fmt"
	"strings"
)

// TaskChargeReason is the ledger reason recorded for a settled request.
func TaskChargeReason(workflow string) string {
	return "Task: " + workflow
}

// CreditLedger guards user credit balances. A debit and its ledger row are
// written in one store transaction, conditional on a sufficient balance and
// unique per mapping, so replays never charge twice.
type CreditLedger struct {
	Store CreditStore
}

func NewCreditLedger(store CreditStore) *CreditLedger {
	return &CreditLedger{Store: store}
}

func (l *CreditLedger) Debit(ctx context.Context, req DebitRequest) (DebitOutcome, error) {
	if l == nil || l.Store == nil {
		return "", fmt.Errorf("core: credit ledger is not configured")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.MappingID = strings.TrimSpace(req.MappingID)
	if req.UserID == "" {
		return "", NewBadInputError("core: debit user id is required", nil)
	}
	if req.Amount <= 0 {
		return DebitSkipped, nil
	}
	outcome, err := l.Store.Debit(ctx, req)
	if err != nil {
		return "", NewInternalError(err, "core: debit failed", map[string]any{
			"user_id":    req.UserID,
			"mapping_id": req.MappingID,
			"amount":     req.Amount,
		})
	}
	return outcome, nil
}

// Grant adds credits to a user with a positive ledger row.
func (l *CreditLedger) Grant(ctx context.Context, userID string, amount int, reason string) (Transaction, error) {
	if l == nil || l.Store == nil {
		return Transaction{}, fmt.Errorf("core: credit ledger is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Transaction{}, NewBadInputError("core: grant user id is required", nil)
	}
	if amount <= 0 {
		return Transaction{}, NewBadInputError("core: grant amount must be positive", map[string]any{"amount": amount})
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Credit grant"
	}
	txn, err := l.Store.Grant(ctx, userID, amount, reason)
	if err != nil {
		return Transaction{}, NewInternalError(err, "core: grant failed", map[string]any{"user_id": userID})
	}
	return txn, nil
}

func (l *CreditLedger) History(ctx context.Context, userID string) ([]Transaction, error) {
	if l == nil || l.Store == nil {
		return nil, fmt.Errorf("core: credit ledger is not configured")
	}
	return l.Store.ListTransactions(ctx, strings.TrimSpace(userID))
}
