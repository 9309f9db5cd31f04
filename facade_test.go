package relay

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	relayquery "github.com/goliatone/go-relay/query"
)

func TestNewFacadeWiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{},
		WithEmailRouter(&stubRouter{}),
		WithWebhookProcessor(&stubProcessor{}),
	)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.HandleInboundEmail == nil || commands.HandleTaskWebhook == nil || commands.GrantCredits == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetMapping == nil || queries.CreditHistory == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestNewFacadeLeavesTransportCommandsUnsetWithoutCollaborators(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Commands().HandleInboundEmail != nil || facade.Commands().HandleTaskWebhook != nil {
		t.Fatalf("expected email and webhook commands to need a router and processor")
	}
}

func TestNewFacadeRequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected missing service error")
	}
}

func TestFacadeCommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	router := &stubRouter{}
	facade, err := NewFacade(svc, WithEmailRouter(router), WithWebhookProcessor(&stubProcessor{}))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	collector := gocmd.NewResult[inbound.RouteResult]()
	routeCtx := gocmd.ContextWithResult(ctx, collector)
	if err := facade.Commands().HandleInboundEmail.Execute(routeCtx, relaycommand.HandleInboundEmailMessage{
		Email: core.InboundEmail{From: "ada@example.com", To: "research@relay.test", Subject: "hi"},
	}); err != nil {
		t.Fatalf("execute inbound email: %v", err)
	}
	if router.last.To != "research@relay.test" {
		t.Fatalf("expected router to receive the email, got %q", router.last.To)
	}
	routed, ok := collector.Load()
	if !ok || routed.Route != inbound.RouteRequest {
		t.Fatalf("expected stored route result, got %#v", routed)
	}

	if err := facade.Commands().GrantCredits.Execute(ctx, relaycommand.GrantCreditsMessage{
		Email: "ada@example.com", Amount: 25, Reason: "manual",
	}); err != nil {
		t.Fatalf("execute grant: %v", err)
	}
	if svc.granted != 25 {
		t.Fatalf("expected grant delegation, got %d", svc.granted)
	}

	mapping, err := facade.Queries().GetMapping.Query(ctx, relayquery.GetMappingMessage{MappingID: "m-9"})
	if err != nil {
		t.Fatalf("query mapping: %v", err)
	}
	if mapping.ID != "m-9" {
		t.Fatalf("unexpected mapping result %#v", mapping)
	}

	history, err := facade.Queries().CreditHistory.Query(ctx, relayquery.CreditHistoryMessage{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("query history: %v", err)
	}
	if len(history.Transactions) != 1 || history.Transactions[0].Delta != 25 {
		t.Fatalf("unexpected history %#v", history)
	}
}

func TestFacadeWebhookCommandKeepsProcessorStatus(t *testing.T) {
	processor := &stubProcessor{
		result: core.InboundResult{StatusCode: 401},
		err:    errors.New("signature mismatch"),
	}
	facade, err := NewFacade(&stubFacadeService{}, WithWebhookProcessor(processor))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	collector := gocmd.NewResult[core.InboundResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err = facade.Commands().HandleTaskWebhook.Execute(ctx, relaycommand.HandleTaskWebhookMessage{
		Request: core.InboundRequest{URL: "https://relay.test/webhooks/tasks"},
	})
	if err == nil {
		t.Fatalf("expected processor error")
	}
	result, ok := collector.Load()
	if !ok || result.StatusCode != 401 {
		t.Fatalf("expected stored 401 result, got %#v", result)
	}
}

type stubFacadeService struct {
	granted int
}

func (s *stubFacadeService) GrantCredits(_ context.Context, _ string, amount int, reason string) (core.Transaction, error) {
	s.granted += amount
	return core.Transaction{Delta: amount, Reason: reason}, nil
}

func (s *stubFacadeService) GetMapping(_ context.Context, id string) (core.Mapping, error) {
	return core.Mapping{ID: id}, nil
}

func (s *stubFacadeService) CreditHistory(_ context.Context, email string) (core.User, []core.Transaction, error) {
	return core.User{Email: email, Credits: s.granted}, []core.Transaction{{Delta: s.granted}}, nil
}

type stubRouter struct {
	last core.InboundEmail
}

func (r *stubRouter) Route(_ context.Context, email core.InboundEmail) (inbound.RouteResult, error) {
	r.last = email
	return inbound.RouteResult{Route: inbound.RouteRequest}, nil
}

type stubProcessor struct {
	result core.InboundResult
	err    error
}

func (p *stubProcessor) Process(context.Context, core.InboundRequest) (core.InboundResult, error) {
	return p.result, p.err
}
