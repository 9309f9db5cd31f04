package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
)

// Handlers groups the relay commands and queries exposed on the dispatcher.
type Handlers struct {
	HandleInboundEmail *relaycommand.HandleInboundEmailCommand
	HandleTaskWebhook  *relaycommand.HandleTaskWebhookCommand
	GrantCredits       *relaycommand.GrantCreditsCommand
	GetMapping         *relayquery.GetMappingQuery
	CreditHistory      *relayquery.CreditHistoryQuery
}

// Subscriptions releases every dispatcher subscription made by RegisterRelay.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterRelay registers and subscribes every configured handler, then
// initializes the registry. Nil handlers are skipped. On error the
// subscriptions made so far are released.
func RegisterRelay(adapter *RegistryAdapter, handlers Handlers, runnerOpts ...runner.Option) (Subscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	subs := Subscriptions{}
	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	if handlers.HandleInboundEmail != nil {
		if err := register(RegisterAndSubscribe[relaycommand.HandleInboundEmailMessage](adapter, handlers.HandleInboundEmail, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.HandleTaskWebhook != nil {
		if err := register(RegisterAndSubscribe[relaycommand.HandleTaskWebhookMessage](adapter, handlers.HandleTaskWebhook, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.GrantCredits != nil {
		if err := register(RegisterAndSubscribe[relaycommand.GrantCreditsMessage](adapter, handlers.GrantCredits, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.GetMapping != nil {
		if err := register(RegisterAndSubscribeQuery[relayquery.GetMappingMessage, core.Mapping](adapter, handlers.GetMapping, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.CreditHistory != nil {
		if err := register(RegisterAndSubscribeQuery[relayquery.CreditHistoryMessage, relayquery.CreditHistory](adapter, handlers.CreditHistory, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if err := adapter.Initialize(); err != nil {
		subs.Unsubscribe()
		return nil, err
	}
	return subs, nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// DispatchCommander returns a commander that sends every message through the
// dispatcher to whichever handler is subscribed for T.
func DispatchCommander[T any]() command.CommandFunc[T] {
	return func(ctx context.Context, msg T) error {
		return Dispatch(ctx, msg)
	}
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
