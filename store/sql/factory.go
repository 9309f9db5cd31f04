package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db            *bun.DB
	workflowCache repositorycache.CacheService

	userStore           *UserStore
	workflowStore       *WorkflowStore
	cachedWorkflows     *CachedWorkflowStore
	approvedSenderStore *ApprovedSenderStore
	mappingStore        *MappingStore
	creditStore         *CreditStore
	deliveryStore       *WebhookDeliveryStore
}

type FactoryOption func(*RepositoryFactory)

// WithWorkflowCache puts workflow lookups behind cacheService.
func WithWorkflowCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.workflowCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as
// a go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.mappingStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) initStores() error {
	var err error
	if f.userStore, err = NewUserStore(f.db); err != nil {
		return err
	}
	if f.workflowStore, err = NewWorkflowStore(f.db); err != nil {
		return err
	}
	if f.approvedSenderStore, err = NewApprovedSenderStore(f.db); err != nil {
		return err
	}
	if f.mappingStore, err = NewMappingStore(f.db); err != nil {
		return err
	}
	if f.creditStore, err = NewCreditStore(f.db); err != nil {
		return err
	}
	if f.deliveryStore, err = NewWebhookDeliveryStore(f.db); err != nil {
		return err
	}
	if f.workflowCache != nil {
		if f.cachedWorkflows, err = NewCachedWorkflowStore(f.workflowStore, f.workflowCache); err != nil {
			return err
		}
	}
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) UserStore() core.UserStore {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) WorkflowStore() core.WorkflowStore {
	if f == nil {
		return nil
	}
	if f.cachedWorkflows != nil {
		return f.cachedWorkflows
	}
	return f.workflowStore
}

func (f *RepositoryFactory) ApprovedSenderStore() core.ApprovedSenderStore {
	if f == nil {
		return nil
	}
	return f.approvedSenderStore
}

func (f *RepositoryFactory) MappingStore() core.MappingStore {
	if f == nil {
		return nil
	}
	return f.mappingStore
}

func (f *RepositoryFactory) CreditStore() core.CreditStore {
	if f == nil {
		return nil
	}
	return f.creditStore
}

func (f *RepositoryFactory) DeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

// Seeder returns the write side used by administrative commands.
func (f *RepositoryFactory) Seeder() *Seeder {
	if f == nil {
		return nil
	}
	seeder := &Seeder{Users: f.userStore, Senders: f.approvedSenderStore}
	if f.cachedWorkflows != nil {
		seeder.Workflows = f.cachedWorkflows
	} else if f.workflowStore != nil {
		seeder.Workflows = f.workflowStore
	}
	return seeder
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
