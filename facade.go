package relay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-relay/command"
	relayquery "github.com/goliatone/go-relay/query"
)

// CommandQueryService is the service surface the facade handlers delegate to.
type CommandQueryService interface {
	relaycommand.CreditGranter
	relayquery.MappingReader
	relayquery.CreditHistoryReader
}

type Commands struct {
	HandleInboundEmail *relaycommand.HandleInboundEmailCommand
	HandleTaskWebhook  *relaycommand.HandleTaskWebhookCommand
	GrantCredits       *relaycommand.GrantCreditsCommand
}

type Queries struct {
	GetMapping    *relayquery.GetMappingQuery
	CreditHistory *relayquery.CreditHistoryQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	router    relaycommand.EmailRouter
	processor relaycommand.WebhookProcessor
}

// WithEmailRouter wires the inbound email command.
func WithEmailRouter(router relaycommand.EmailRouter) FacadeOption {
	return func(options *facadeOptions) {
		options.router = router
	}
}

// WithWebhookProcessor wires the task webhook command.
func WithWebhookProcessor(processor relaycommand.WebhookProcessor) FacadeOption {
	return func(options *facadeOptions) {
		options.processor = processor
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.router == nil {
		if router, ok := service.(relaycommand.EmailRouter); ok {
			cfg.router = router
		}
	}
	if cfg.processor == nil {
		if processor, ok := service.(relaycommand.WebhookProcessor); ok {
			cfg.processor = processor
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		GrantCredits: relaycommand.NewGrantCreditsCommand(service),
	}
	if cfg.router != nil {
		facade.commands.HandleInboundEmail = relaycommand.NewHandleInboundEmailCommand(cfg.router)
	}
	if cfg.processor != nil {
		facade.commands.HandleTaskWebhook = relaycommand.NewHandleTaskWebhookCommand(cfg.processor)
	}
	facade.queries = Queries{
		GetMapping:    relayquery.NewGetMappingQuery(service),
		CreditHistory: relayquery.NewCreditHistoryQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
