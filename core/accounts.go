package core

import (
	"context"
	"fmt"
)

// Accounts answers operator questions keyed by user email or mapping id. It
// needs only the stores, so it also serves tooling that runs without a mailer
// or task backend.
type Accounts struct {
	Users    UserStore
	Credits  *CreditLedger
	Mappings *MappingLedger
}

func NewAccounts(users UserStore, credits *CreditLedger, mappings *MappingLedger) *Accounts {
	return &Accounts{Users: users, Credits: credits, Mappings: mappings}
}

// GrantCredits adds amount to the user registered under email.
func (a *Accounts) GrantCredits(ctx context.Context, email string, amount int, reason string) (Transaction, error) {
	user, err := a.user(ctx, email)
	if err != nil {
		return Transaction{}, err
	}
	return a.Credits.Grant(ctx, user.ID, amount, reason)
}

// CreditHistory returns the balance and ledger of the user registered under email.
func (a *Accounts) CreditHistory(ctx context.Context, email string) (User, []Transaction, error) {
	user, err := a.user(ctx, email)
	if err != nil {
		return User{}, nil, err
	}
	history, err := a.Credits.History(ctx, user.ID)
	if err != nil {
		return User{}, nil, err
	}
	return user, history, nil
}

func (a *Accounts) GetMapping(ctx context.Context, id string) (Mapping, error) {
	if a == nil || a.Mappings == nil {
		return Mapping{}, fmt.Errorf("core: accounts are not configured")
	}
	mapping, err := a.Mappings.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return Mapping{}, NewNotFoundError(err, "core: mapping not found", map[string]any{"mapping_id": id})
		}
		return Mapping{}, err
	}
	return mapping, nil
}

func (a *Accounts) user(ctx context.Context, email string) (User, error) {
	if a == nil || a.Users == nil || a.Credits == nil {
		return User{}, fmt.Errorf("core: accounts are not configured")
	}
	email = NormalizeEmail(email)
	user, err := a.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return User{}, NewNotFoundError(err, "core: user not found", map[string]any{"email": email})
		}
		return User{}, NewInternalError(err, "core: user lookup failed", nil)
	}
	return user, nil
}
