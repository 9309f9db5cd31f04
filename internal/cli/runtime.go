package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/adapters/gologger"
	"github.com/goliatone/go-relay/core"
	relaymigrations "github.com/goliatone/go-relay/migrations"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// persistenceConfig adapts core.DatabaseConfig to the go-persistence-bun
// client configuration.
type persistenceConfig struct {
	database    core.DatabaseConfig
	serviceName string
}

func (c persistenceConfig) GetDebug() bool                { return c.database.Debug }
func (c persistenceConfig) GetDriver() string             { return c.database.Driver }
func (c persistenceConfig) GetServer() string             { return c.database.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return c.serviceName }

// runtime is the wiring shared by every subcommand.
type runtime struct {
	cfg      core.Config
	provider glog.LoggerProvider
	logger   glog.Logger
	client   *persistence.Client
	factory  *sqlstore.RepositoryFactory
}

func openRuntime(ctx context.Context, opts *RootOptions, overrides core.Config, logOut io.Writer) (*runtime, error) {
	provider := gologger.New(gologger.Options{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
		Writer: logOut,
	})
	logger := provider.GetLogger("relay.cli")

	cfg, err := loadConfig(ctx, opts, overrides)
	if err != nil {
		return nil, fmt.Errorf("cli: load config: %w", err)
	}

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cacheConfig := repositorycache.DefaultConfig()
	factoryOpts := []sqlstore.FactoryOption{}
	if ttl := cfg.Cache.WorkflowTTLDuration(); ttl > 0 {
		cacheConfig.TTL = ttl
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("cli: workflow cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithWorkflowCache(cacheService))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cli: build stores: %w", err)
	}

	logger.Debug("runtime ready", "driver", cfg.Database.Driver, "workflow_cache_ttl_s", cfg.Cache.WorkflowTTL)
	return &runtime{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		client:   client,
		factory:  factory,
	}, nil
}

// openPersistence opens the configured database, registers the embedded
// migrations for its dialect and applies them.
func openPersistence(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	dialectName, err := relaymigrations.DialectForDriver(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	var dialect schema.Dialect
	switch dialectName {
	case relaymigrations.DialectPostgres:
		dialect = pgdialect.New()
	default:
		dialect = sqlitedialect.New()
	}

	sqlDB, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("cli: open database: %w", err)
	}
	if dialectName == relaymigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{database: cfg.Database, serviceName: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("cli: persistence client: %w", err)
	}
	err = relaymigrations.Register(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, dialectName)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cli: migrate: %w", err)
	}
	return client, nil
}

func (r *runtime) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
