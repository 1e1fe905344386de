// Package devkit is the in-memory reference adapter. It composes a
// limiter, complexity tracker, mapper, and webhook dispatcher against
// fixture data so host applications (and this module's own tests) can
// exercise the full intake path without a real tracker on the wire.
package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/worksync/go-trackers/core"
	"github.com/worksync/go-trackers/mapping"
	"github.com/worksync/go-trackers/ratelimit"
	"github.com/worksync/go-trackers/webhooks"
)

// ProviderID is the provider name the devkit runtime registers under.
const ProviderID = "devkit"

// IssueRules returns the field-mapping table for the devkit issue
// schema. The schema deliberately mixes nested paths, indexed paths,
// and every normalizing transform.
func IssueRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "gid", TargetField: "external_id", Transform: "direct", Required: true},
		{SourceField: "name", TargetField: "title", Transform: "direct", Required: true},
		{SourceField: "notes", TargetField: "description", Transform: "direct"},
		{SourceField: "state", TargetField: "status", Transform: "status"},
		{SourceField: "priority", TargetField: "priority", Transform: "priority"},
		{SourceField: "assignee", TargetField: "assignee", Transform: "user"},
		{SourceField: "followers", TargetField: "watchers", Transform: "users"},
		{SourceField: "tags", TargetField: "labels", Transform: "labels"},
		{SourceField: "due_on", TargetField: "due_date", Transform: "date"},
		{SourceField: "created_at", TargetField: "created_at", Transform: "unix_ms"},
		{SourceField: "project.gid", TargetField: "project_id", Transform: "direct"},
		{SourceField: "custom_fields[0].value", TargetField: "metadata.story_points", Transform: "direct"},
	}
}

// SampleIssue is a provider-shaped record matching IssueRules.
func SampleIssue() map[string]any {
	return map[string]any{
		"gid":   "issue-1001",
		"name":  "Fix login redirect",
		"notes": "Users bounce back to the login page after SSO.",
		"state": "In Progress",
		// provider scale, clamps to the urgent rung
		"priority": 7,
		"assignee": map[string]any{"gid": "user-1", "name": "Ada Park", "email": "ada@example.com"},
		"followers": []any{
			map[string]any{"gid": "user-2", "name": "Lin Wu"},
			"user-3",
		},
		"tags":       []any{"auth", map[string]any{"name": "regression"}},
		"due_on":     "2026-04-15",
		"created_at": int64(1767225600000),
		"project":    map[string]any{"gid": "proj-7"},
		"custom_fields": []any{
			map[string]any{"name": "points", "value": 5},
		},
	}
}

// Roster returns the workspace members user transforms resolve against.
func Roster() []core.User {
	return []core.User{
		{ID: "u-1", ExternalID: "user-1", Provider: ProviderID, Name: "Ada Park", Email: "ada@example.com"},
		{ID: "u-2", ExternalID: "user-2", Provider: ProviderID, Name: "Lin Wu", Email: "lin@example.com"},
		{ID: "u-3", ExternalID: "user-3", Provider: ProviderID, Name: "Sam Reyes", Email: "sam@example.com"},
	}
}

// TransformContext builds the lookup context the fixtures expect.
func TransformContext() *core.TransformContext {
	return &core.TransformContext{
		SourceProvider: ProviderID,
		TargetProvider: "universal",
		Members:        Roster(),
	}
}

// MemoryDeliveryLedger is a mutex-guarded in-memory delivery ledger.
// Hosts use it in tests and local development where the sql-backed
// ledger is overkill.
type MemoryDeliveryLedger struct {
	mu      sync.Mutex
	records map[string]webhooks.DeliveryRecord
	nextID  int
	now     func() time.Time
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: map[string]webhooks.DeliveryRecord{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryDeliveryLedger) Reserve(_ context.Context, provider, deliveryID string, _ []byte) (webhooks.DeliveryRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(provider, deliveryID)
	if existing, ok := l.records[key]; ok {
		return existing, true, nil
	}
	now := l.now()
	l.nextID++
	record := webhooks.DeliveryRecord{
		ID:         fmt.Sprintf("mem-%d", l.nextID),
		Provider:   strings.TrimSpace(strings.ToLower(provider)),
		DeliveryID: strings.TrimSpace(deliveryID),
		Status:     webhooks.DeliveryStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.records[key] = record
	return record, false, nil
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, provider, deliveryID string) (webhooks.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[ledgerKey(provider, deliveryID)]
	if !ok {
		return webhooks.DeliveryRecord{}, fmt.Errorf("devkit: delivery %q/%q not found", provider, deliveryID)
	}
	return record, nil
}

func (l *MemoryDeliveryLedger) MarkProcessed(_ context.Context, provider, deliveryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(provider, deliveryID)
	record, ok := l.records[key]
	if !ok {
		return fmt.Errorf("devkit: delivery %q/%q not found", provider, deliveryID)
	}
	record.Status = webhooks.DeliveryStatusProcessed
	record.NextAttemptAt = nil
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func (l *MemoryDeliveryLedger) MarkRetry(_ context.Context, provider, deliveryID string, _ error, nextAttemptAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(provider, deliveryID)
	record, ok := l.records[key]
	if !ok {
		return fmt.Errorf("devkit: delivery %q/%q not found", provider, deliveryID)
	}
	record.Status = webhooks.DeliveryStatusRetryReady
	record.Attempts++
	next := nextAttemptAt.UTC()
	record.NextAttemptAt = &next
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

// PurgeProcessedBefore removes processed deliveries older than cutoff.
func (l *MemoryDeliveryLedger) PurgeProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var purged int64
	for key, record := range l.records {
		if record.Status == webhooks.DeliveryStatusProcessed && record.UpdatedAt.Before(cutoff) {
			delete(l.records, key)
			purged++
		}
	}
	return purged, nil
}

func ledgerKey(provider, deliveryID string) string {
	return strings.TrimSpace(strings.ToLower(provider)) + ":" + strings.TrimSpace(deliveryID)
}

// MemorySnapshotStore keeps rate-limit snapshots keyed by normalized
// (provider, org) pairs.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[ratelimit.Key]ratelimit.Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: map[ratelimit.Key]ratelimit.Snapshot{}}
}

func (s *MemorySnapshotStore) Get(_ context.Context, key ratelimit.Key) (ratelimit.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.snapshots[ratelimit.NormalizeKey(key)]
	if !ok {
		return ratelimit.Snapshot{}, ratelimit.ErrSnapshotNotFound
	}
	return snapshot, nil
}

func (s *MemorySnapshotStore) Upsert(_ context.Context, snapshot ratelimit.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.Key = ratelimit.NormalizeKey(snapshot.Key)
	if snapshot.Key.Provider == "" {
		return fmt.Errorf("devkit: snapshot provider is required")
	}
	s.snapshots[snapshot.Key] = snapshot
	return nil
}

var (
	_ webhooks.DeliveryLedger = (*MemoryDeliveryLedger)(nil)
	_ ratelimit.SnapshotStore = (*MemorySnapshotStore)(nil)
)
