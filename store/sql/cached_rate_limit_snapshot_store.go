package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/worksync/go-trackers/ratelimit"
)

const rateLimitSnapshotCacheKeyPrefix = "go-trackers::ratelimit_snapshot::v1"

// CachedRateLimitSnapshotStore wraps a snapshot store with a
// read-through cache. Upserts invalidate so the next read hits the
// base store.
type CachedRateLimitSnapshotStore struct {
	base  ratelimit.SnapshotStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitSnapshotStore(
	base ratelimit.SnapshotStore,
	cacheService repositorycache.CacheService,
) (*CachedRateLimitSnapshotStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit snapshot store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitSnapshotStore{base: base, cache: cacheService}, nil
}

// RateLimitSnapshotCacheKey is the deterministic cache key contract:
// go-trackers::ratelimit_snapshot::v1::<provider>::<org_id> with each
// segment URL-path escaped after key normalization.
func RateLimitSnapshotCacheKey(key ratelimit.Key) (string, error) {
	normalized := ratelimit.NormalizeKey(key)
	if err := validateSnapshotKey(normalized); err != nil {
		return "", err
	}
	segments := []string{
		url.PathEscape(normalized.Provider),
		url.PathEscape(normalized.OrgID),
	}
	return strings.Join(append([]string{rateLimitSnapshotCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedRateLimitSnapshotStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.Snapshot, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.Snapshot{}, fmt.Errorf("sqlstore: cached rate-limit snapshot store is not configured")
	}
	normalized := ratelimit.NormalizeKey(key)
	cacheKey, err := RateLimitSnapshotCacheKey(normalized)
	if err != nil {
		return ratelimit.Snapshot{}, err
	}

	snapshot, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.Snapshot, error) {
		fetched, fetchErr := s.base.Get(ctx, normalized)
		if fetchErr != nil {
			return ratelimit.Snapshot{}, fetchErr
		}
		return cloneSnapshot(fetched), nil
	})
	if err != nil {
		return ratelimit.Snapshot{}, err
	}
	return cloneSnapshot(snapshot), nil
}

func (s *CachedRateLimitSnapshotStore) Upsert(ctx context.Context, snapshot ratelimit.Snapshot) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit snapshot store is not configured")
	}
	snapshot.Key = ratelimit.NormalizeKey(snapshot.Key)
	if err := validateSnapshotKey(snapshot.Key); err != nil {
		return err
	}
	snapshot.Metadata = copyAnyMap(snapshot.Metadata)

	if err := s.base.Upsert(ctx, snapshot); err != nil {
		return err
	}

	cacheKey, err := RateLimitSnapshotCacheKey(snapshot.Key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneSnapshot(snapshot ratelimit.Snapshot) ratelimit.Snapshot {
	cloned := snapshot
	cloned.Key = ratelimit.NormalizeKey(snapshot.Key)
	cloned.Metadata = copyAnyMap(snapshot.Metadata)
	cloned.ComplexityResetAt = copyTimePointer(snapshot.ComplexityResetAt)
	return cloned
}

var _ ratelimit.SnapshotStore = (*CachedRateLimitSnapshotStore)(nil)
