package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/worksync/go-trackers/ratelimit"
)

type stubSnapshotStore struct {
	mu          sync.Mutex
	snapshot    ratelimit.Snapshot
	getCalls    int
	upsertCalls int
	getErr      error
}

func (s *stubSnapshotStore) Get(_ context.Context, _ ratelimit.Key) (ratelimit.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return ratelimit.Snapshot{}, s.getErr
	}
	return cloneSnapshot(s.snapshot), nil
}

func (s *stubSnapshotStore) Upsert(_ context.Context, snapshot ratelimit.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.snapshot = cloneSnapshot(snapshot)
	return nil
}

func newTestSnapshotCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedSnapshotStoreMissFetchThenHit(t *testing.T) {
	cacheService := newTestSnapshotCacheService(t)
	base := &stubSnapshotStore{
		snapshot: ratelimit.Snapshot{
			Key:        ratelimit.Key{Provider: "linear", OrgID: "org_1"},
			Tokens:     3.5,
			LastRefill: time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
			Metadata:   map[string]any{"source": "base"},
		},
	}
	store, err := NewCachedRateLimitSnapshotStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	key := ratelimit.Key{Provider: "linear", OrgID: "org_1"}
	if _, err := store.Get(context.Background(), key); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("first get should fetch base once, got %d", base.getCalls)
	}

	if _, err := store.Get(context.Background(), key); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("second get should hit cache, base calls = %d", base.getCalls)
	}
}

func TestCachedSnapshotStoreUpsertInvalidates(t *testing.T) {
	cacheService := newTestSnapshotCacheService(t)
	base := &stubSnapshotStore{
		snapshot: ratelimit.Snapshot{
			Key:        ratelimit.Key{Provider: "linear", OrgID: "org_2"},
			Tokens:     5,
			LastRefill: time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		},
	}
	store, err := NewCachedRateLimitSnapshotStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	key := ratelimit.Key{Provider: "linear", OrgID: "org_2"}
	if _, err := store.Get(context.Background(), key); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	next := base.snapshot
	next.Tokens = 1.25
	if err := store.Upsert(context.Background(), next); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if base.upsertCalls != 1 {
		t.Fatalf("upsert should hit base, calls = %d", base.upsertCalls)
	}

	refreshed, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if base.getCalls != 2 {
		t.Fatalf("get after upsert should refetch, base calls = %d", base.getCalls)
	}
	if refreshed.Tokens != 1.25 {
		t.Fatalf("tokens = %v, want 1.25", refreshed.Tokens)
	}
}

func TestCachedSnapshotStoreKeyNormalization(t *testing.T) {
	upper, err := RateLimitSnapshotCacheKey(ratelimit.Key{Provider: "LINEAR", OrgID: "org_3"})
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	lower, err := RateLimitSnapshotCacheKey(ratelimit.Key{Provider: "linear", OrgID: "org_3"})
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if upper != lower {
		t.Fatalf("cache keys differ: %q vs %q", upper, lower)
	}
}

func TestCachedSnapshotStorePropagatesNotFound(t *testing.T) {
	cacheService := newTestSnapshotCacheService(t)
	base := &stubSnapshotStore{getErr: ratelimit.ErrSnapshotNotFound}
	store, err := NewCachedRateLimitSnapshotStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	_, err = store.Get(context.Background(), ratelimit.Key{Provider: "linear", OrgID: "missing"})
	if !errors.Is(err, ratelimit.ErrSnapshotNotFound) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}
