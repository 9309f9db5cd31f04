package relay

import "github.com/goliatone/go-relay/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type InboundEmail = core.InboundEmail
type CompletionEvent = core.CompletionEvent
type DispatchResult = core.DispatchResult
type ReconcileResult = core.ReconcileResult

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithMailer              = core.WithMailer
	WithTaskBackend         = core.WithTaskBackend
	WithHeuristics          = core.WithHeuristics
	WithUserStore           = core.WithUserStore
	WithWorkflowStore       = core.WithWorkflowStore
	WithApprovedSenderStore = core.WithApprovedSenderStore
	WithMappingStore        = core.WithMappingStore
	WithCreditStore         = core.WithCreditStore
	WithClock               = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
