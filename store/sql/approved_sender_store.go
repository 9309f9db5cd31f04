package sqlstore

import (
	"context"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ApprovedSenderStore struct {
	db   *bun.DB
	repo repository.Repository[*approvedSenderRecord]
}

func NewApprovedSenderStore(db *bun.DB) (*ApprovedSenderStore, error) {
	repo, err := newRepository(db, "approved sender", approvedSenderHandlers())
	if err != nil {
		return nil, err
	}
	return &ApprovedSenderStore{db: db, repo: repo}, nil
}

func (s *ApprovedSenderStore) IsApprovedSender(ctx context.Context, workflowID string, email string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	return s.db.NewSelect().
		Model((*approvedSenderRecord)(nil)).
		Where("?TableAlias.workflow_id = ?", strings.TrimSpace(workflowID)).
		Where("?TableAlias.email = ?", core.NormalizeEmail(email)).
		Exists(ctx)
}

// Approve adds email to the workflow allowlist. Approving twice is a no-op.
func (s *ApprovedSenderStore) Approve(ctx context.Context, workflowID string, email string) error {
	if s == nil || s.repo == nil {
		return errNotConfigured
	}
	workflowID = strings.TrimSpace(workflowID)
	email = core.NormalizeEmail(email)
	if workflowID == "" || email == "" {
		return core.NewBadInputError("sqlstore: workflow id and email are required", nil)
	}
	_, err := s.repo.Create(ctx, &approvedSenderRecord{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Email:      email,
		CreatedAt:  nowUTC(),
	})
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

func (s *ApprovedSenderStore) ListApproved(ctx context.Context, workflowID string) ([]core.ApprovedSender, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("workflow_id", "=", strings.TrimSpace(workflowID)),
		repository.OrderBy("email ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ApprovedSender, 0, len(records))
	for _, record := range records {
		out = append(out, core.ApprovedSender{
			WorkflowID: record.WorkflowID,
			Email:      record.Email,
			CreatedAt:  record.CreatedAt,
		})
	}
	return out, nil
}
