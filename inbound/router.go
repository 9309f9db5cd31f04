package inbound

import (
	"context"
	"strings"

	"github.com/goliatone/go-relay/core"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, email core.InboundEmail) (core.DispatchResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, event core.CompletionEvent) (core.ReconcileResult, error)
}

const (
	RouteRequest = "request"
	RouteReply   = "reply"
)

type RouteResult struct {
	Route     string
	Dispatch  *core.DispatchResult
	Reconcile *core.ReconcileResult
}

// Router sends backend replies to reconciliation and everything else to dispatch.
type Router struct {
	Dispatcher   Dispatcher
	Reconciler   Reconciler
	ReplyDomain  string
	RelayAddress string
}

func NewRouter(dispatcher Dispatcher, reconciler Reconciler, replyDomain string, relayAddress string) *Router {
	return &Router{
		Dispatcher:   dispatcher,
		Reconciler:   reconciler,
		ReplyDomain:  replyDomain,
		RelayAddress: relayAddress,
	}
}

// IsBackendReply reports whether email was sent by the backend reply domain
// to the relay address.
func (r *Router) IsBackendReply(email core.InboundEmail) bool {
	if r == nil {
		return false
	}
	domain := strings.TrimPrefix(core.NormalizeEmail(r.ReplyDomain), "@")
	relay := core.NormalizeEmail(r.RelayAddress)
	if domain == "" || relay == "" {
		return false
	}
	return strings.HasSuffix(core.NormalizeEmail(email.From), "@"+domain) &&
		core.NormalizeEmail(email.To) == relay
}

func (r *Router) Route(ctx context.Context, email core.InboundEmail) (RouteResult, error) {
	if r == nil || r.Dispatcher == nil || r.Reconciler == nil {
		return RouteResult{}, core.NewInternalError(nil, "inbound: router is not configured", nil)
	}
	if strings.TrimSpace(email.From) == "" {
		return RouteResult{}, core.NewBadInputError("inbound: sender is required", nil)
	}
	if r.IsBackendReply(email) {
		result, err := r.Reconciler.Reconcile(ctx, core.EmailCompletion(email))
		if err != nil {
			return RouteResult{Route: RouteReply}, err
		}
		return RouteResult{Route: RouteReply, Reconcile: &result}, nil
	}
	result, err := r.Dispatcher.Dispatch(ctx, email)
	if err != nil {
		return RouteResult{Route: RouteRequest}, err
	}
	return RouteResult{Route: RouteRequest, Dispatch: &result}, nil
}
