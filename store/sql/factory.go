package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-connectors/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithCredentialCache wraps the credential store in CachedCredentialStore.
func WithCredentialCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func WithCredentialStoreOptions(opts ...CredentialStoreOption) FactoryOption {
	return func(f *RepositoryFactory) {
		f.credentialOpts = append(f.credentialOpts, opts...)
	}
}

// RepositoryFactory builds the SQL backed stores from one bun connection.
type RepositoryFactory struct {
	db             *bun.DB
	cache          repositorycache.CacheService
	credentialOpts []CredentialStoreOption

	sqlCredentialStore *CredentialStore
	credentialStore    core.CredentialStore
	activityStore      *ActivityStore
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
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as
// a go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.credentialStore != nil && f.activityStore != nil {
		return nil
	}

	sqlCredentials, err := NewCredentialStore(f.db, f.credentialOpts...)
	if err != nil {
		return err
	}
	f.sqlCredentialStore = sqlCredentials
	f.credentialStore = sqlCredentials
	if f.cache != nil {
		cached, cacheErr := NewCachedCredentialStore(sqlCredentials, f.cache, f.credentialOpts...)
		if cacheErr != nil {
			return cacheErr
		}
		f.credentialStore = cached
	}

	activityStore, err := NewActivityStore(f.db)
	if err != nil {
		return err
	}
	f.activityStore = activityStore
	return nil
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) SQLCredentialStore() *CredentialStore {
	if f == nil {
		return nil
	}
	return f.sqlCredentialStore
}

func (f *RepositoryFactory) ActivityStore() *ActivityStore {
	if f == nil {
		return nil
	}
	return f.activityStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// Options returns the core.Service options that install these stores.
func (f *RepositoryFactory) Options() []core.Option {
	if f == nil {
		return nil
	}
	return []core.Option{
		core.WithCredentialStore(f.credentialStore),
		core.WithActivityLog(f.activityStore),
	}
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
