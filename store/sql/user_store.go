package sqlstore

import (
	"context"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	repo, err := newRepository(db, "user", userHandlers())
	if err != nil {
		return nil, err
	}
	return &UserStore{db: db, repo: repo}, nil
}

func (s *UserStore) GetUser(ctx context.Context, id string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, errNotConfigured
	}
	record := &userRecord{}
	id = strings.TrimSpace(id)
	if err := selectOne(ctx, s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", id), "user", id); err != nil {
		return core.User{}, err
	}
	return userToDomain(record), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, errNotConfigured
	}
	record := &userRecord{}
	email = core.NormalizeEmail(email)
	if err := selectOne(ctx, s.db.NewSelect().Model(record).Where("?TableAlias.email = ?", email), "user", email); err != nil {
		return core.User{}, err
	}
	return userToDomain(record), nil
}

// EnsureUser returns the user registered under email, creating it with a
// zero balance when absent.
func (s *UserStore) EnsureUser(ctx context.Context, email string, approved bool) (core.User, error) {
	if s == nil || s.repo == nil {
		return core.User{}, errNotConfigured
	}
	email = core.NormalizeEmail(email)
	if email == "" {
		return core.User{}, core.NewBadInputError("sqlstore: user email is required", nil)
	}
	existing, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !core.IsNotFound(err) {
		return core.User{}, err
	}
	now := nowUTC()
	created, err := s.repo.Create(ctx, &userRecord{
		ID:        uuid.NewString(),
		Email:     email,
		Approved:  approved,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return s.GetUserByEmail(ctx, email)
		}
		return core.User{}, err
	}
	return userToDomain(created), nil
}

func userToDomain(record *userRecord) core.User {
	if record == nil {
		return core.User{}
	}
	return core.User{
		ID:        record.ID,
		Email:     record.Email,
		Credits:   record.Credits,
		Approved:  record.Approved,
		CreatedAt: record.CreatedAt,
	}
}
