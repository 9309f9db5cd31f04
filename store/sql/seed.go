package sqlstore

import (
	"context"

	"github.com/goliatone/go-relay/core"
)

type workflowWriter interface {
	UpsertWorkflow(ctx context.Context, workflow core.Workflow) (core.Workflow, error)
}

// Seeder groups the administrative writes the request path never performs:
// registering users, workflows and allowlist entries.
type Seeder struct {
	Users     *UserStore
	Workflows workflowWriter
	Senders   *ApprovedSenderStore
}

// DefaultWorkflows are the public native workflows a fresh install offers.
func DefaultWorkflows() []core.Workflow {
	return []core.Workflow{
		{
			Name:           "research",
			Kind:           core.WorkflowKindNative,
			Visibility:     core.WorkflowVisibilityPublic,
			Active:         true,
			CreditsPerTask: 10,
			Description:    "Research a topic and report back with sources",
			Instruction:    "Research the request below thoroughly and reply with a structured report that cites its sources.",
		},
		{
			Name:           "summarize",
			Kind:           core.WorkflowKindNative,
			Visibility:     core.WorkflowVisibilityPublic,
			Active:         true,
			CreditsPerTask: 5,
			Description:    "Summarize the email and its attachments",
			Instruction:    "Summarize the content below, including any attachments, in a few short paragraphs.",
		},
		{
			Name:           "newsletter",
			Kind:           core.WorkflowKindNative,
			Visibility:     core.WorkflowVisibilityPublic,
			Active:         true,
			CreditsPerTask: 15,
			Description:    "Draft a newsletter from the provided notes",
			Instruction:    "Turn the notes below into a polished newsletter issue with a headline and sections.",
		},
	}
}

func (s *Seeder) SeedWorkflows(ctx context.Context, workflows ...core.Workflow) ([]core.Workflow, error) {
	if s == nil || s.Workflows == nil {
		return nil, errNotConfigured
	}
	if len(workflows) == 0 {
		workflows = DefaultWorkflows()
	}
	out := make([]core.Workflow, 0, len(workflows))
	for _, workflow := range workflows {
		stored, err := s.Workflows.UpsertWorkflow(ctx, workflow)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *Seeder) EnsureUser(ctx context.Context, email string) (core.User, error) {
	if s == nil || s.Users == nil {
		return core.User{}, errNotConfigured
	}
	return s.Users.EnsureUser(ctx, email, true)
}

func (s *Seeder) ApproveSender(ctx context.Context, workflowID string, email string) error {
	if s == nil || s.Senders == nil {
		return errNotConfigured
	}
	return s.Senders.Approve(ctx, workflowID, email)
}
