package command

import (
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeHandleInboundEmail = "relay.command.inbound_email.handle"
	TypeHandleTaskWebhook  = "relay.command.task_webhook.handle"
	TypeGrantCredits       = "relay.command.credits.grant"
)

// HandleInboundEmailMessage carries one parsed inbound email, either a new
// request or a backend reply.
type HandleInboundEmailMessage struct {
	Email core.InboundEmail
}

func (HandleInboundEmailMessage) Type() string { return TypeHandleInboundEmail }

func (m HandleInboundEmailMessage) Validate() error {
	if strings.TrimSpace(m.Email.From) == "" {
		return commandValidationError("from", "sender is required")
	}
	if strings.TrimSpace(m.Email.To) == "" {
		return commandValidationError("to", "recipient is required")
	}
	return nil
}

// HandleTaskWebhookMessage carries a raw completion webhook. Signature
// checks happen in the handler, so only the envelope is validated here.
type HandleTaskWebhookMessage struct {
	Request core.InboundRequest
}

func (HandleTaskWebhookMessage) Type() string { return TypeHandleTaskWebhook }

func (m HandleTaskWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.URL) == "" {
		return commandValidationError("url", "request url is required")
	}
	return nil
}

type GrantCreditsMessage struct {
	Email  string
	Amount int
	Reason string
}

func (GrantCreditsMessage) Type() string { return TypeGrantCredits }

func (m GrantCreditsMessage) Validate() error {
	if core.NormalizeEmail(m.Email) == "" {
		return commandValidationError("email", "email is required")
	}
	if m.Amount <= 0 {
		return commandValidationError("amount", "amount must be positive")
	}
	return nil
}
