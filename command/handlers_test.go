package command

import (
	"context"
	"errors"
	"net/http"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
)

type stubRouter struct {
	routeFn func(ctx context.Context, email core.InboundEmail) (inbound.RouteResult, error)
}

func (s stubRouter) Route(ctx context.Context, email core.InboundEmail) (inbound.RouteResult, error) {
	return s.routeFn(ctx, email)
}

type stubProcessor struct {
	result core.InboundResult
	err    error
	got    core.InboundRequest
}

func (s *stubProcessor) Process(_ context.Context, req core.InboundRequest) (core.InboundResult, error) {
	s.got = req
	return s.result, s.err
}

type stubGranter struct {
	email  string
	amount int
}

func (s *stubGranter) GrantCredits(_ context.Context, email string, amount int, reason string) (core.Transaction, error) {
	s.email = email
	s.amount = amount
	return core.Transaction{ID: "txn-1", Delta: amount, Reason: reason}, nil
}

func TestHandleInboundEmailCommand_RoutesAndStoresResult(t *testing.T) {
	called := false
	cmd := NewHandleInboundEmailCommand(stubRouter{routeFn: func(_ context.Context, email core.InboundEmail) (inbound.RouteResult, error) {
		called = true
		if email.From != "alice@example.com" {
			t.Fatalf("unexpected sender %q", email.From)
		}
		return inbound.RouteResult{Route: inbound.RouteRequest, Dispatch: &core.DispatchResult{Outcome: core.DispatchForwarded}}, nil
	}})

	collector := gocmd.NewResult[inbound.RouteResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := cmd.Execute(ctx, HandleInboundEmailMessage{Email: core.InboundEmail{From: "alice@example.com", To: "research@relay.test"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Fatalf("expected router invocation")
	}
	result, ok := collector.Load()
	if !ok || result.Route != inbound.RouteRequest || result.Dispatch == nil {
		t.Fatalf("unexpected stored result %+v", result)
	}
}

func TestHandleInboundEmailCommand_RejectsMissingSender(t *testing.T) {
	cmd := NewHandleInboundEmailCommand(stubRouter{routeFn: func(context.Context, core.InboundEmail) (inbound.RouteResult, error) {
		t.Fatalf("router must not run for invalid input")
		return inbound.RouteResult{}, nil
	}})
	err := cmd.Execute(context.Background(), HandleInboundEmailMessage{Email: core.InboundEmail{To: "research@relay.test"}})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.RelayErrorBadInput {
		t.Fatalf("unexpected error %+v", rich)
	}
}

func TestHandleTaskWebhookCommand_StoresResultOnFailure(t *testing.T) {
	failure := core.NewUnauthorizedError("bad signature", nil)
	processor := &stubProcessor{
		result: core.InboundResult{Accepted: false, StatusCode: http.StatusUnauthorized},
		err:    failure,
	}
	cmd := NewHandleTaskWebhookCommand(processor)
	collector := gocmd.NewResult[core.InboundResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, HandleTaskWebhookMessage{Request: core.InboundRequest{URL: "https://relay.test/webhooks/tasks", Body: []byte(`{}`)}})
	if !errors.Is(err, failure) {
		t.Fatalf("expected processor error, got %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected stored 401 result, got %+v", result)
	}
	if processor.got.URL != "https://relay.test/webhooks/tasks" {
		t.Fatalf("unexpected request forwarded: %+v", processor.got)
	}
}

func TestGrantCreditsCommand(t *testing.T) {
	granter := &stubGranter{}
	cmd := NewGrantCreditsCommand(granter)
	collector := gocmd.NewResult[core.Transaction]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, GrantCreditsMessage{Email: "bob@example.com", Amount: 25, Reason: "Welcome"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	txn, ok := collector.Load()
	if !ok || txn.Delta != 25 || granter.email != "bob@example.com" {
		t.Fatalf("unexpected grant %+v %+v", txn, granter)
	}

	if err := cmd.Execute(ctx, GrantCreditsMessage{Email: "bob@example.com", Amount: 0}); err == nil {
		t.Fatalf("expected non-positive amount to fail validation")
	}
}

func TestNilCommandsReturnDependencyErrors(t *testing.T) {
	var inboundCmd *HandleInboundEmailCommand
	var webhookCmd *HandleTaskWebhookCommand
	var grantCmd *GrantCreditsCommand
	for name, err := range map[string]error{
		"inbound": inboundCmd.Execute(context.Background(), HandleInboundEmailMessage{}),
		"webhook": webhookCmd.Execute(context.Background(), HandleTaskWebhookMessage{}),
		"grant":   grantCmd.Execute(context.Background(), GrantCreditsMessage{}),
	} {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
			t.Fatalf("%s: expected internal go-errors envelope, got %v", name, err)
		}
	}
}
