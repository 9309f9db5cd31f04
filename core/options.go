package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig loads raw values through provider and resolves them against runtime overrides.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString(layer, "service_name", cfg.ServiceName, includeZero)

	putSection(layer, "http", includeZero, func(section map[string]any) {
		putString(section, "addr", cfg.HTTP.Addr, includeZero)
	})
	putSection(layer, "database", includeZero, func(section map[string]any) {
		putString(section, "driver", cfg.Database.Driver, includeZero)
		putString(section, "dsn", cfg.Database.DSN, includeZero)
		if includeZero || cfg.Database.Debug {
			section["debug"] = cfg.Database.Debug
		}
	})
	putSection(layer, "mail", includeZero, func(section map[string]any) {
		putString(section, "api_key", cfg.Mail.APIKey, includeZero)
		putString(section, "from_domain", cfg.Mail.FromDomain, includeZero)
		putString(section, "relay_address", cfg.Mail.RelayAddress, includeZero)
	})
	putSection(layer, "backend", includeZero, func(section map[string]any) {
		putString(section, "base_url", cfg.Backend.BaseURL, includeZero)
		putString(section, "api_key", cfg.Backend.APIKey, includeZero)
		putString(section, "agent_profile", cfg.Backend.AgentProfile, includeZero)
		putString(section, "reply_domain", cfg.Backend.ReplyDomain, includeZero)
	})
	putSection(layer, "webhook", includeZero, func(section map[string]any) {
		putString(section, "public_url", cfg.Webhook.PublicURL, includeZero)
		putInt(section, "key_ttl", cfg.Webhook.KeyTTL, includeZero)
		putInt(section, "tolerance", cfg.Webhook.Tolerance, includeZero)
	})
	putSection(layer, "transport", includeZero, func(section map[string]any) {
		putInt(section, "timeout", cfg.Transport.Timeout, includeZero)
	})
	putSection(layer, "cache", includeZero, func(section map[string]any) {
		putInt(section, "workflow_ttl", cfg.Cache.WorkflowTTL, includeZero)
	})
	return layer
}

func putSection(layer map[string]any, key string, includeZero bool, fill func(map[string]any)) {
	section := map[string]any{}
	fill(section)
	if includeZero || len(section) > 0 {
		layer[key] = section
	}
}

func putString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = value
	}
}

func putInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

type Option func(*serviceBuilder)

type serviceBuilder struct {
	runtimeConfig       Config
	logger              Logger
	loggerProvider      LoggerProvider
	persistenceClient   any
	repositoryFactory   any
	configProvider      ConfigProvider
	optionsResolver     OptionsResolver
	mailer              Mailer
	backend             TaskBackend
	heuristics          Heuristics
	userStore           UserStore
	workflowStore       WorkflowStore
	approvedSenderStore ApprovedSenderStore
	mappingStore        MappingStore
	creditStore         CreditStore
	now                 func() time.Time
}

func defaultServiceBuilder(cfg Config) serviceBuilder {
	return serviceBuilder{runtimeConfig: cfg}
}

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a RepositoryStoreFactory or a StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithMailer(mailer Mailer) Option {
	return func(b *serviceBuilder) {
		b.mailer = mailer
	}
}

func WithTaskBackend(backend TaskBackend) Option {
	return func(b *serviceBuilder) {
		b.backend = backend
	}
}

func WithHeuristics(heuristics Heuristics) Option {
	return func(b *serviceBuilder) {
		b.heuristics = heuristics
	}
}

func WithUserStore(store UserStore) Option {
	return func(b *serviceBuilder) {
		b.userStore = store
	}
}

func WithWorkflowStore(store WorkflowStore) Option {
	return func(b *serviceBuilder) {
		b.workflowStore = store
	}
}

func WithApprovedSenderStore(store ApprovedSenderStore) Option {
	return func(b *serviceBuilder) {
		b.approvedSenderStore = store
	}
}

func WithMappingStore(store MappingStore) Option {
	return func(b *serviceBuilder) {
		b.mappingStore = store
	}
}

func WithCreditStore(store CreditStore) Option {
	return func(b *serviceBuilder) {
		b.creditStore = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}
