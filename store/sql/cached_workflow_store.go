package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
)

const (
	workflowCacheKeyPrefix = "go-relay::workflow::v1"
	publicWorkflowsKey     = workflowCacheKeyPrefix + "::public"
)

// CachedWorkflowStore reads workflows through a go-repository-cache service.
// Writes go to the base store and drop the affected keys.
type CachedWorkflowStore struct {
	base  *WorkflowStore
	cache repositorycache.CacheService
}

func NewCachedWorkflowStore(base *WorkflowStore, cacheService repositorycache.CacheService) (*CachedWorkflowStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base workflow store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: workflow cache service is required")
	}
	return &CachedWorkflowStore{base: base, cache: cacheService}, nil
}

// WorkflowCacheKey is go-relay::workflow::v1::<escaped lowercase name>.
func WorkflowCacheKey(name string) string {
	return workflowCacheKeyPrefix + "::" + url.PathEscape(strings.ToLower(strings.TrimSpace(name)))
}

func (s *CachedWorkflowStore) GetWorkflowByName(ctx context.Context, name string) (core.Workflow, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Workflow{}, errNotConfigured
	}
	workflow, err := repositorycache.GetOrFetch(ctx, s.cache, WorkflowCacheKey(name), func(ctx context.Context) (core.Workflow, error) {
		return s.base.GetWorkflowByName(ctx, name)
	})
	if err != nil {
		return core.Workflow{}, err
	}
	return cloneWorkflow(workflow), nil
}

func (s *CachedWorkflowStore) ListPublicWorkflows(ctx context.Context) ([]core.Workflow, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, errNotConfigured
	}
	workflows, err := repositorycache.GetOrFetch(ctx, s.cache, publicWorkflowsKey, func(ctx context.Context) ([]core.Workflow, error) {
		return s.base.ListPublicWorkflows(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.Workflow, 0, len(workflows))
	for _, workflow := range workflows {
		out = append(out, cloneWorkflow(workflow))
	}
	return out, nil
}

func (s *CachedWorkflowStore) UpsertWorkflow(ctx context.Context, workflow core.Workflow) (core.Workflow, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Workflow{}, errNotConfigured
	}
	stored, err := s.base.UpsertWorkflow(ctx, workflow)
	if err != nil {
		return core.Workflow{}, err
	}
	if err := s.Invalidate(ctx, stored.Name); err != nil {
		return core.Workflow{}, err
	}
	return stored, nil
}

func (s *CachedWorkflowStore) Invalidate(ctx context.Context, name string) error {
	if err := s.cache.Delete(ctx, WorkflowCacheKey(name)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, publicWorkflowsKey)
}

func cloneWorkflow(workflow core.Workflow) core.Workflow {
	cloned := workflow
	if workflow.OwnerID != nil {
		owner := *workflow.OwnerID
		cloned.OwnerID = &owner
	}
	return cloned
}

