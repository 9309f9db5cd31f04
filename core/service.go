package core

import (
	"context"
	"fmt"
)

// StoreProvider exposes the stores the relay components read and write.
type StoreProvider interface {
	UserStore() UserStore
	WorkflowStore() WorkflowStore
	ApprovedSenderStore() ApprovedSenderStore
	MappingStore() MappingStore
	CreditStore() CreditStore
}

// RepositoryStoreFactory builds a StoreProvider from a persistence client.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// Service owns the wired relay components for one configuration.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	persistenceClient any
	repositoryFactory any

	users     UserStore
	workflows WorkflowStore

	resolver   *WorkflowResolver
	guard      *EntitlementGuard
	mappings   *MappingLedger
	credits    *CreditLedger
	dispatcher *DispatchRouter
	reconciler *Reconciler
	accounts   *Accounts
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	PersistenceClient any
	RepositoryFactory any
	Users             UserStore
	Workflows         WorkflowStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	logger := ResolveLogger("relay", builder.loggerProvider, builder.logger)

	finalConfig, err := LoadConfig(context.Background(), builder.configProvider, builder.optionsResolver, builder.runtimeConfig)
	if err != nil {
		return nil, fmt.Errorf("core: load config: %w", err)
	}

	if err := builder.resolveStores(); err != nil {
		return nil, err
	}
	if builder.userStore == nil || builder.workflowStore == nil || builder.mappingStore == nil || builder.creditStore == nil {
		return nil, fmt.Errorf("core: user, workflow, mapping and credit stores are required")
	}
	if builder.mailer == nil {
		return nil, fmt.Errorf("core: mailer is required")
	}

	addresses := Addresses{
		FromDomain:   finalConfig.Mail.FromDomain,
		RelayAddress: finalConfig.Mail.RelayAddress,
	}
	resolver := NewWorkflowResolver(builder.workflowStore, builder.approvedSenderStore)
	guard := NewEntitlementGuard(builder.userStore, builder.workflowStore, resolver)
	mappings := NewMappingLedger(builder.mappingStore)
	if builder.now != nil {
		mappings.Now = builder.now
	}
	credits := NewCreditLedger(builder.creditStore)

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    builder.loggerProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		users:             builder.userStore,
		workflows:         builder.workflowStore,
		resolver:          resolver,
		guard:             guard,
		mappings:          mappings,
		credits:           credits,
		accounts:          NewAccounts(builder.userStore, credits, mappings),
		dispatcher: &DispatchRouter{
			Guard:        guard,
			Ledger:       mappings,
			Mailer:       builder.mailer,
			Backend:      builder.backend,
			Addresses:    addresses,
			AgentProfile: finalConfig.Backend.AgentProfile,
			Logger:       ResolveLogger("relay.dispatch", builder.loggerProvider, logger),
		},
		reconciler: &Reconciler{
			Ledger:     mappings,
			Credits:    credits,
			Users:      builder.userStore,
			Workflows:  builder.workflowStore,
			Mailer:     builder.mailer,
			Backend:    builder.backend,
			Heuristics: builder.heuristics,
			Addresses:  addresses,
			Logger:     ResolveLogger("relay.reconcile", builder.loggerProvider, logger),
		},
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// resolveStores fills unset stores from the repository factory. Stores set
// explicitly through options win.
func (b *serviceBuilder) resolveStores() error {
	if b.repositoryFactory == nil {
		return nil
	}
	var provider StoreProvider
	switch factory := b.repositoryFactory.(type) {
	case RepositoryStoreFactory:
		built, err := factory.BuildStores(b.persistenceClient)
		if err != nil {
			return fmt.Errorf("core: build stores: %w", err)
		}
		provider = built
	case StoreProvider:
		provider = factory
	default:
		return fmt.Errorf("core: unsupported repository factory %T", b.repositoryFactory)
	}
	if provider == nil {
		return nil
	}
	if b.userStore == nil {
		b.userStore = provider.UserStore()
	}
	if b.workflowStore == nil {
		b.workflowStore = provider.WorkflowStore()
	}
	if b.approvedSenderStore == nil {
		b.approvedSenderStore = provider.ApprovedSenderStore()
	}
	if b.mappingStore == nil {
		b.mappingStore = provider.MappingStore()
	}
	if b.creditStore == nil {
		b.creditStore = provider.CreditStore()
	}
	return nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return ResolveLogger("relay", nil, nil)
	}
	return s.logger
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		Users:             s.users,
		Workflows:         s.workflows,
	}
}

func (s *Service) Dispatcher() *DispatchRouter {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) Reconciler() *Reconciler {
	if s == nil {
		return nil
	}
	return s.reconciler
}

func (s *Service) Mappings() *MappingLedger {
	if s == nil {
		return nil
	}
	return s.mappings
}

func (s *Service) Credits() *CreditLedger {
	if s == nil {
		return nil
	}
	return s.credits
}

func (s *Service) Guard() *EntitlementGuard {
	if s == nil {
		return nil
	}
	return s.guard
}

func (s *Service) Dispatch(ctx context.Context, email InboundEmail) (DispatchResult, error) {
	if s == nil {
		return DispatchResult{}, fmt.Errorf("core: service is nil")
	}
	return s.dispatcher.Dispatch(ctx, email)
}

func (s *Service) Reconcile(ctx context.Context, event CompletionEvent) (ReconcileResult, error) {
	if s == nil {
		return ReconcileResult{}, fmt.Errorf("core: service is nil")
	}
	return s.reconciler.Reconcile(ctx, event)
}

func (s *Service) Accounts() *Accounts {
	if s == nil {
		return nil
	}
	return s.accounts
}

// GrantCredits adds amount to the user registered under email.
func (s *Service) GrantCredits(ctx context.Context, email string, amount int, reason string) (Transaction, error) {
	if s == nil {
		return Transaction{}, fmt.Errorf("core: service is nil")
	}
	return s.accounts.GrantCredits(ctx, email, amount, reason)
}

// CreditHistory returns the balance and ledger of the user registered under email.
func (s *Service) CreditHistory(ctx context.Context, email string) (User, []Transaction, error) {
	if s == nil {
		return User{}, nil, fmt.Errorf("core: service is nil")
	}
	return s.accounts.CreditHistory(ctx, email)
}

func (s *Service) GetMapping(ctx context.Context, id string) (Mapping, error) {
	if s == nil {
		return Mapping{}, fmt.Errorf("core: service is nil")
	}
	return s.accounts.GetMapping(ctx, id)
}
