package core

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// WorkflowResolver maps a routing key to an active workflow the requester may use.
type WorkflowResolver struct {
	Workflows       WorkflowStore
	ApprovedSenders ApprovedSenderStore
}

func NewWorkflowResolver(workflows WorkflowStore, approved ApprovedSenderStore) *WorkflowResolver {
	return &WorkflowResolver{Workflows: workflows, ApprovedSenders: approved}
}

func (r *WorkflowResolver) Resolve(ctx context.Context, routingKey string, requester User) (Workflow, error) {
	if r == nil || r.Workflows == nil {
		return Workflow{}, fmt.Errorf("core: workflow resolver is not configured")
	}
	key := strings.ToLower(strings.TrimSpace(routingKey))
	metadata := map[string]any{"workflow": key}
	if key == "" {
		return Workflow{}, relayError("core: workflow not found", goerrors.CategoryNotFound, RelayErrorWorkflowNotFound, metadata)
	}

	workflow, err := r.Workflows.GetWorkflowByName(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return Workflow{}, relayWrapError(err, goerrors.CategoryNotFound, "core: workflow not found", RelayErrorWorkflowNotFound, metadata)
		}
		return Workflow{}, NewInternalError(err, "core: workflow lookup failed", metadata)
	}
	if !workflow.Active {
		return Workflow{}, relayError("core: workflow not found", goerrors.CategoryNotFound, RelayErrorWorkflowNotFound, metadata)
	}
	if !workflow.Private() || workflow.OwnedBy(requester.ID) {
		return workflow, nil
	}

	if r.ApprovedSenders == nil {
		return Workflow{}, relayError("core: workflow is private", goerrors.CategoryAuthz, RelayErrorWorkflowForbidden, metadata)
	}
	approved, err := r.ApprovedSenders.IsApprovedSender(ctx, workflow.ID, NormalizeEmail(requester.Email))
	if err != nil {
		return Workflow{}, NewInternalError(err, "core: approved sender lookup failed", metadata)
	}
	if !approved {
		return Workflow{}, relayError("core: workflow is private", goerrors.CategoryAuthz, RelayErrorWorkflowForbidden, metadata)
	}
	return workflow, nil
}

func isWorkflowNotFound(err error) bool {
	return TextCode(err) == RelayErrorWorkflowNotFound
}

func isWorkflowForbidden(err error) bool {
	return TextCode(err) == RelayErrorWorkflowForbidden
}
