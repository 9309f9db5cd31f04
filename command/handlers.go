package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
)

type EmailRouter interface {
	Route(ctx context.Context, email core.InboundEmail) (inbound.RouteResult, error)
}

type WebhookProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type CreditGranter interface {
	GrantCredits(ctx context.Context, email string, amount int, reason string) (core.Transaction, error)
}

type HandleInboundEmailCommand struct {
	router EmailRouter
}

func NewHandleInboundEmailCommand(router EmailRouter) *HandleInboundEmailCommand {
	return &HandleInboundEmailCommand{router: router}
}

func (c *HandleInboundEmailCommand) Execute(ctx context.Context, msg HandleInboundEmailMessage) error {
	if c == nil || c.router == nil {
		return commandDependencyError("command: inbound email router is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.router.Route(ctx, msg.Email)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type HandleTaskWebhookCommand struct {
	processor WebhookProcessor
}

func NewHandleTaskWebhookCommand(processor WebhookProcessor) *HandleTaskWebhookCommand {
	return &HandleTaskWebhookCommand{processor: processor}
}

// Execute stores the processor result even when it fails, so callers can
// answer with the status the processor chose.
func (c *HandleTaskWebhookCommand) Execute(ctx context.Context, msg HandleTaskWebhookMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.processor.Process(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type GrantCreditsCommand struct {
	granter CreditGranter
}

func NewGrantCreditsCommand(granter CreditGranter) *GrantCreditsCommand {
	return &GrantCreditsCommand{granter: granter}
}

func (c *GrantCreditsCommand) Execute(ctx context.Context, msg GrantCreditsMessage) error {
	if c == nil || c.granter == nil {
		return commandDependencyError("command: credit granter is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.granter.GrantCredits(ctx, msg.Email, msg.Amount, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
