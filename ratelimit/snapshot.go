package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrSnapshotNotFound = errors.New("ratelimit: snapshot not found")

// Key identifies a limiter instance: one per (organization, provider) pair.
type Key struct {
	Provider string
	OrgID    string
}

func NormalizeKey(key Key) Key {
	return Key{
		Provider: strings.TrimSpace(strings.ToLower(key.Provider)),
		OrgID:    strings.TrimSpace(key.OrgID),
	}
}

// Snapshot captures bucket state so adapters can resume admission control
// across restarts instead of starting from a full burst.
type Snapshot struct {
	Key                 Key
	Tokens              float64
	LastRefill          time.Time
	ComplexityRemaining int
	ComplexityResetAt   *time.Time
	UpdatedAt           time.Time
	Metadata            map[string]any
}

type SnapshotStore interface {
	Get(ctx context.Context, key Key) (Snapshot, error)
	Upsert(ctx context.Context, snapshot Snapshot) error
}

// Snapshot exports the current bucket state under the limiter lock.
func (l *Limiter) Snapshot(orgID string) Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return Snapshot{
		Key:        NormalizeKey(Key{Provider: l.provider, OrgID: orgID}),
		Tokens:     l.tokens,
		LastRefill: l.lastRefill,
		UpdatedAt:  l.now(),
	}
}

// RestoreSnapshot adopts persisted bucket state, clamping tokens to the
// configured burst. Refill since LastRefill is applied on the next
// operation, so stale snapshots simply start fuller.
func (l *Limiter) RestoreSnapshot(snapshot Snapshot) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tokens := snapshot.Tokens
	if tokens < 0 {
		tokens = 0
	}
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}
	l.tokens = tokens
	if !snapshot.LastRefill.IsZero() && snapshot.LastRefill.Before(l.now()) {
		l.lastRefill = snapshot.LastRefill.UTC()
	}
}
