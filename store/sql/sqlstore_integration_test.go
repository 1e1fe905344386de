package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/worksync/go-trackers/mapping"
	trackermigrations "github.com/worksync/go-trackers/migrations"
	"github.com/worksync/go-trackers/ratelimit"
	sqlstore "github.com/worksync/go-trackers/store/sql"
	"github.com/worksync/go-trackers/webhooks"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-trackers-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:trackers-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = trackermigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != trackermigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, trackermigrations.WithValidationTargets(trackermigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"tracker_webhook_deliveries",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "tracker_webhook_deliveries" {
		t.Fatalf("expected tracker_webhook_deliveries table, got %q", tableName)
	}
}

func TestWebhookDeliveryStoreDedupesDeliveries(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	store := factory.WebhookDeliveryStore()
	if store == nil {
		t.Fatal("expected webhook delivery store from factory")
	}

	first, duplicate, err := store.Reserve(ctx, "linear", "dlv-1", []byte(`{"type":"issue.update"}`))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if duplicate {
		t.Fatal("first reservation flagged as duplicate")
	}
	if first.Status != webhooks.DeliveryStatusPending || first.Attempts != 1 {
		t.Fatalf("record = %+v", first)
	}

	second, duplicate, err := store.Reserve(ctx, "linear", "dlv-1", nil)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if !duplicate {
		t.Fatal("second reservation should be flagged duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned different record: %q vs %q", second.ID, first.ID)
	}

	// same delivery id under a different provider is a fresh record
	_, duplicate, err = store.Reserve(ctx, "github", "dlv-1", nil)
	if err != nil {
		t.Fatalf("cross-provider reserve: %v", err)
	}
	if duplicate {
		t.Fatal("same delivery id on another provider must not collide")
	}
}

func TestWebhookDeliveryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	store := factory.WebhookDeliveryStore()

	if _, _, err := store.Reserve(ctx, "asana", "dlv-9", nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	retryAt := time.Now().Add(time.Minute).UTC()
	if err := store.MarkRetry(ctx, "asana", "dlv-9", errors.New("downstream boom"), retryAt); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	record, err := store.Get(ctx, "asana", "dlv-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusRetryReady || record.Attempts != 2 {
		t.Fatalf("after retry: %+v", record)
	}
	if record.NextAttemptAt == nil {
		t.Fatal("retry must set next attempt time")
	}

	if err := store.MarkProcessed(ctx, "asana", "dlv-9"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	record, err = store.Get(ctx, "asana", "dlv-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusProcessed {
		t.Fatalf("status = %q, want processed", record.Status)
	}
	if record.NextAttemptAt != nil {
		t.Fatal("processed delivery must clear next attempt time")
	}
}

func TestWebhookDeliveryStorePurge(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	store := factory.WebhookDeliveryStore()

	if _, _, err := store.Reserve(ctx, "slack", "old-1", nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.MarkProcessed(ctx, "slack", "old-1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if _, _, err := store.Reserve(ctx, "slack", "pending-1", nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	purged, err := store.PurgeProcessedBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	if _, err := store.Get(ctx, "slack", "pending-1"); err != nil {
		t.Fatalf("pending delivery must survive purge: %v", err)
	}
	if _, err := store.Get(ctx, "slack", "old-1"); err == nil {
		t.Fatal("processed delivery should be purged")
	}
}

func TestRateLimitSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	store := factory.RateLimitSnapshotStore()

	key := ratelimit.Key{Provider: "Linear", OrgID: "org_7"}
	if _, err := store.Get(ctx, key); !errors.Is(err, ratelimit.ErrSnapshotNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	resetAt := time.Now().Add(45 * time.Second).UTC().Truncate(time.Second)
	snapshot := ratelimit.Snapshot{
		Key:                 key,
		Tokens:              2.5,
		LastRefill:          time.Now().UTC().Truncate(time.Second),
		ComplexityRemaining: 880,
		ComplexityResetAt:   &resetAt,
		Metadata:            map[string]any{"note": "restore test"},
	}
	if err := store.Upsert(ctx, snapshot); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := store.Get(ctx, ratelimit.Key{Provider: "linear", OrgID: "org_7"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Tokens != 2.5 || loaded.ComplexityRemaining != 880 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.ComplexityResetAt == nil || !loaded.ComplexityResetAt.Equal(resetAt) {
		t.Fatalf("complexity reset at = %v, want %v", loaded.ComplexityResetAt, resetAt)
	}

	snapshot.Tokens = 0.5
	if err := store.Upsert(ctx, snapshot); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	loaded, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if loaded.Tokens != 0.5 {
		t.Fatalf("tokens = %v, want updated 0.5", loaded.Tokens)
	}
}

func TestSnapshotRestoresLimiterAcrossRestart(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	store := factory.RateLimitSnapshotStore()

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Provider:    "linear",
		MaxRequests: 10,
		Window:      time.Minute,
	})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	for i := 0; i < 4; i++ {
		if !limiter.TryAcquire() {
			t.Fatalf("acquire %d failed", i)
		}
	}
	if err := store.Upsert(ctx, limiter.Snapshot("org_restart")); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}

	restored, err := ratelimit.NewLimiter(ratelimit.Config{
		Provider:    "linear",
		MaxRequests: 10,
		Window:      time.Minute,
	})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	snapshot, err := store.Get(ctx, ratelimit.Key{Provider: "linear", OrgID: "org_restart"})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	restored.RestoreSnapshot(snapshot)

	if remaining := restored.RemainingTokens(); remaining != 6 {
		t.Fatalf("restored tokens = %d, want 6", remaining)
	}
}

func TestMappingRuleSetStoreVersions(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	store := factory.MappingRuleSetStore()

	if _, _, err := store.Load(ctx, "jira", "task"); !errors.Is(err, sqlstore.ErrRuleSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rules := []mapping.Rule{
		{SourceField: "fields.summary", TargetField: "title"},
		{SourceField: "fields.status.name", TargetField: "status", Transform: "status"},
	}
	version, err := store.Save(ctx, "Jira", "Task", rules)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if version != 1 {
		t.Fatalf("first version = %d, want 1", version)
	}

	rules = append(rules, mapping.Rule{SourceField: "fields.priority.name", TargetField: "priority", Transform: "priority"})
	version, err = store.Save(ctx, "jira", "task", rules)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if version != 2 {
		t.Fatalf("second version = %d, want 2", version)
	}

	loaded, loadedVersion, err := store.Load(ctx, "jira", "task")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loadedVersion != 2 || len(loaded) != 3 {
		t.Fatalf("loaded version %d with %d rules", loadedVersion, len(loaded))
	}
	if loaded[2].Transform != "priority" {
		t.Fatalf("rules = %+v", loaded)
	}

	if _, err := store.Save(ctx, "jira", "task", []mapping.Rule{{SourceField: "a"}}); err == nil {
		t.Fatal("invalid rule must be rejected before persisting")
	}
}
