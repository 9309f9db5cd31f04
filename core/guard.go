package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type RejectionReason string

const (
	RejectionUnregistered        RejectionReason = "unregistered"
	RejectionUnapproved          RejectionReason = "unapproved"
	RejectionUnknownWorkflow     RejectionReason = "unknown_workflow"
	RejectionForbidden           RejectionReason = "forbidden"
	RejectionInsufficientCredits RejectionReason = "insufficient_credits"
)

// Rejection is a business refusal answered with a bounce, never a server error.
type Rejection struct {
	Reason  RejectionReason
	Message string
}

func (r Rejection) TextCode() string {
	return "RELAY_REJECTED_" + strings.ToUpper(string(r.Reason))
}

type Entitlement struct {
	User     User
	Workflow Workflow
}

type EntitlementGuard struct {
	Users     UserStore
	Workflows WorkflowStore
	Resolver  *WorkflowResolver
	// SignupHint is appended to the unregistered rejection when set.
	SignupHint string
}

func NewEntitlementGuard(users UserStore, workflows WorkflowStore, resolver *WorkflowResolver) *EntitlementGuard {
	return &EntitlementGuard{Users: users, Workflows: workflows, Resolver: resolver}
}

// Check runs the ordered entitlement checks. The first failing check wins.
func (g *EntitlementGuard) Check(ctx context.Context, sender string, routingKey string) (Entitlement, *Rejection, error) {
	if g == nil || g.Users == nil || g.Resolver == nil {
		return Entitlement{}, nil, fmt.Errorf("core: entitlement guard is not configured")
	}
	sender = NormalizeEmail(sender)
	routingKey = strings.ToLower(strings.TrimSpace(routingKey))

	user, err := g.Users.GetUserByEmail(ctx, sender)
	if err != nil {
		if IsNotFound(err) {
			message := "Not registered"
			if hint := strings.TrimSpace(g.SignupHint); hint != "" {
				message += ". " + hint
			}
			return Entitlement{}, &Rejection{Reason: RejectionUnregistered, Message: message}, nil
		}
		return Entitlement{}, nil, NewInternalError(err, "core: user lookup failed", map[string]any{"sender": sender})
	}
	if !user.Approved {
		return Entitlement{}, &Rejection{Reason: RejectionUnapproved, Message: "Account pending approval"}, nil
	}

	workflow, err := g.Resolver.Resolve(ctx, routingKey, user)
	switch {
	case err == nil:
	case isWorkflowNotFound(err):
		return Entitlement{}, &Rejection{
			Reason:  RejectionUnknownWorkflow,
			Message: g.unknownWorkflowMessage(ctx, routingKey),
		}, nil
	case isWorkflowForbidden(err):
		return Entitlement{}, &Rejection{
			Reason:  RejectionForbidden,
			Message: fmt.Sprintf("You are not allowed to use workflow: %s", routingKey),
		}, nil
	default:
		return Entitlement{}, nil, err
	}

	if user.Credits < workflow.CreditsPerTask {
		return Entitlement{}, &Rejection{
			Reason:  RejectionInsufficientCredits,
			Message: fmt.Sprintf("Insufficient credits. Balance: %d, Required: %d", user.Credits, workflow.CreditsPerTask),
		}, nil
	}
	return Entitlement{User: user, Workflow: workflow}, nil, nil
}

func (g *EntitlementGuard) unknownWorkflowMessage(ctx context.Context, routingKey string) string {
	message := fmt.Sprintf("Unknown workflow: %s", routingKey)
	if g.Workflows == nil {
		return message
	}
	workflows, err := g.Workflows.ListPublicWorkflows(ctx)
	if err != nil || len(workflows) == 0 {
		return message
	}
	names := make([]string, 0, len(workflows))
	for _, workflow := range workflows {
		if workflow.Active {
			names = append(names, workflow.Name)
		}
	}
	if len(names) == 0 {
		return message
	}
	sort.Strings(names)
	return message + ". Available: " + strings.Join(names, ", ")
}
