package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// StoreFactory builds the tracker stores over one bun connection. It
// accepts either a *bun.DB or anything exposing DB() *bun.DB, such as
// the go-persistence-bun client.
type StoreFactory struct {
	db *bun.DB

	deliveryStore *WebhookDeliveryStore
	snapshotStore *RateLimitSnapshotStore
	ruleSetStore  *MappingRuleSetStore
}

func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

func NewStoreFactoryFromPersistence(client *persistence.Client) (*StoreFactory, error) {
	factory := NewStoreFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewStoreFactoryFromDB(db *bun.DB) (*StoreFactory, error) {
	factory := NewStoreFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *StoreFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: store factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.deliveryStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *StoreFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *StoreFactory) WebhookDeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *StoreFactory) RateLimitSnapshotStore() *RateLimitSnapshotStore {
	if f == nil {
		return nil
	}
	return f.snapshotStore
}

func (f *StoreFactory) MappingRuleSetStore() *MappingRuleSetStore {
	if f == nil {
		return nil
	}
	return f.ruleSetStore
}

func (f *StoreFactory) initStores() error {
	deliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryStore = deliveryStore

	snapshotStore, err := NewRateLimitSnapshotStore(f.db)
	if err != nil {
		return err
	}
	f.snapshotStore = snapshotStore

	ruleSetStore, err := NewMappingRuleSetStore(f.db)
	if err != nil {
		return err
	}
	f.ruleSetStore = ruleSetStore
	return nil
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
