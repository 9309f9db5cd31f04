package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WorkflowStore struct {
	db   *bun.DB
	repo repository.Repository[*workflowRecord]
}

func NewWorkflowStore(db *bun.DB) (*WorkflowStore, error) {
	repo, err := newRepository(db, "workflow", workflowHandlers())
	if err != nil {
		return nil, err
	}
	return &WorkflowStore{db: db, repo: repo}, nil
}

// GetWorkflowByName matches the lowercased name. Inactive workflows are
// returned too; the resolver decides how to treat them.
func (s *WorkflowStore) GetWorkflowByName(ctx context.Context, name string) (core.Workflow, error) {
	if s == nil || s.db == nil {
		return core.Workflow{}, errNotConfigured
	}
	name = strings.ToLower(strings.TrimSpace(name))
	record := &workflowRecord{}
	if err := selectOne(ctx, s.db.NewSelect().Model(record).Where("?TableAlias.name = ?", name), "workflow", name); err != nil {
		return core.Workflow{}, err
	}
	return workflowToDomain(record), nil
}

func (s *WorkflowStore) ListPublicWorkflows(ctx context.Context) ([]core.Workflow, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("visibility", "=", string(core.WorkflowVisibilityPublic)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.active = ?", true)
		}),
		repository.OrderBy("name ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Workflow, 0, len(records))
	for _, record := range records {
		out = append(out, workflowToDomain(record))
	}
	return out, nil
}

// UpsertWorkflow creates the workflow or replaces the mutable columns of the
// row with the same name.
func (s *WorkflowStore) UpsertWorkflow(ctx context.Context, workflow core.Workflow) (core.Workflow, error) {
	if s == nil || s.db == nil {
		return core.Workflow{}, errNotConfigured
	}
	workflow.Name = strings.ToLower(strings.TrimSpace(workflow.Name))
	if workflow.Name == "" {
		return core.Workflow{}, core.NewBadInputError("sqlstore: workflow name is required", nil)
	}
	if workflow.CreditsPerTask <= 0 {
		return core.Workflow{}, core.NewBadInputError("sqlstore: workflow credits per task must be positive", map[string]any{
			"workflow": workflow.Name,
		})
	}
	if strings.TrimSpace(workflow.ID) == "" {
		workflow.ID = uuid.NewString()
	}
	record := workflowFromDomain(workflow)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &workflowRecord{}
		err := tx.NewSelect().Model(existing).Where("?TableAlias.name = ?", record.Name).Limit(1).Scan(ctx)
		now := nowUTC()
		record.UpdatedAt = now
		if errors.Is(err, sql.ErrNoRows) {
			record.CreatedAt = now
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		if err != nil {
			return err
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		_, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx)
		return updateErr
	})
	if err != nil {
		return core.Workflow{}, err
	}
	return s.GetWorkflowByName(ctx, workflow.Name)
}

func workflowToDomain(record *workflowRecord) core.Workflow {
	if record == nil {
		return core.Workflow{}
	}
	return core.Workflow{
		ID:               record.ID,
		Name:             record.Name,
		Kind:             core.WorkflowKind(record.Kind),
		Visibility:       core.WorkflowVisibility(record.Visibility),
		Active:           record.Active,
		CreditsPerTask:   record.CreditsPerTask,
		Instruction:      record.Instruction,
		Description:      record.Description,
		ExecutionAddress: record.ExecutionAddress,
		OwnerID:          trimmedPtr(record.OwnerID),
		CreatedAt:        record.CreatedAt,
	}
}

func workflowFromDomain(workflow core.Workflow) *workflowRecord {
	kind := workflow.Kind
	if kind == "" {
		kind = core.WorkflowKindNative
	}
	visibility := workflow.Visibility
	if visibility == "" {
		visibility = core.WorkflowVisibilityPublic
	}
	return &workflowRecord{
		ID:               strings.TrimSpace(workflow.ID),
		Name:             workflow.Name,
		Kind:             string(kind),
		Visibility:       string(visibility),
		Active:           workflow.Active,
		CreditsPerTask:   workflow.CreditsPerTask,
		Instruction:      workflow.Instruction,
		Description:      workflow.Description,
		ExecutionAddress: workflow.ExecutionAddress,
		OwnerID:          trimmedPtr(workflow.OwnerID),
	}
}
