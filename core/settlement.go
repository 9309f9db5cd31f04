package core

import (
	"context"
	"fmt"
	"strings"
)

// SettlementPlan describes one completion: the external delivery to perform
// and the charge to commit once it succeeds.
type SettlementPlan struct {
	Mapping Mapping
	UserID  string
	Amount  int
	Reason  string
	Deliver func(ctx context.Context) error
}

// Settlement runs act-then-commit keyed by mapping id. Delivery happens
// first; a delivery failure leaves the mapping untouched so a redelivered
// completion can retry. The commit debits at most once per mapping and then
// closes the mapping with the billed amount.
type Settlement struct {
	Ledger  *MappingLedger
	Credits *CreditLedger
	Logger  Logger
}

func (s *Settlement) Settle(ctx context.Context, plan SettlementPlan) (ReconcileResult, error) {
	if s == nil || s.Ledger == nil || s.Credits == nil {
		return ReconcileResult{}, fmt.Errorf("core: settlement is not configured")
	}
	mappingID := plan.Mapping.ID
	result := ReconcileResult{MappingID: mappingID, CreditsCharged: plan.Amount, Debit: DebitSkipped}

	if plan.Deliver != nil {
		if err := plan.Deliver(ctx); err != nil {
			return ReconcileResult{}, err
		}
	}

	if strings.TrimSpace(plan.UserID) != "" {
		outcome, err := s.Credits.Debit(ctx, DebitRequest{
			UserID:    plan.UserID,
			Amount:    plan.Amount,
			Reason:    plan.Reason,
			MappingID: mappingID,
		})
		if err != nil {
			return ReconcileResult{}, err
		}
		result.Debit = outcome
		if outcome == DebitInsufficient {
			logWarn(ctx, s.Logger, "relay.settlement.debit_insufficient", map[string]any{
				"mapping_id": mappingID,
				"user_id":    plan.UserID,
				"amount":     plan.Amount,
			})
		}
	}

	changed, err := s.Ledger.MarkCompleted(ctx, mappingID, plan.Amount)
	if err != nil {
		return ReconcileResult{}, err
	}
	if !changed {
		result.Outcome = ReconcileAlreadyCompleted
		return result, nil
	}
	result.Outcome = ReconcileCompleted
	return result, nil
}
