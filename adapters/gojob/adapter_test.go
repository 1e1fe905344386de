package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/worksync/go-trackers/core"
	"github.com/worksync/go-trackers/ratelimit"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          JobIDSnapshotPersist,
		Parameters:     map[string]any{"provider": "linear"},
		IdempotencyKey: "idem-1",
		DedupPolicy:    "drop",
	}

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != original.JobID {
		t.Fatalf("expected job id %q, got %q", original.JobID, roundTrip.JobID)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.DedupPolicy != original.DedupPolicy {
		t.Fatalf("expected dedup policy %q, got %q", original.DedupPolicy, roundTrip.DedupPolicy)
	}
	if roundTrip.Parameters["provider"] != "linear" {
		t.Fatalf("expected parameters to survive mapping")
	}
}

func TestRetentionMessageAndHandler(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := NewRetentionMessage(30*24*time.Hour, now)
	if msg.JobID != JobIDWebhookRetention {
		t.Fatalf("unexpected job id %q", msg.JobID)
	}
	raw, _ := msg.Parameters[ParamRetentionCutoff].(string)
	cutoff, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.Fatalf("parse cutoff: %v", err)
	}
	if want := now.Add(-30 * 24 * time.Hour); !cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, cutoff)
	}
	if msg.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key")
	}

	janitor := &stubJanitor{purged: 7}
	handler := RetentionHandler(janitor)
	purged, err := handler(context.Background(), msg)
	if err != nil {
		t.Fatalf("retention handler: %v", err)
	}
	if purged != 7 {
		t.Fatalf("expected 7 purged rows, got %d", purged)
	}
	if !janitor.cutoff.Equal(cutoff) {
		t.Fatalf("expected janitor cutoff %s, got %s", cutoff, janitor.cutoff)
	}

	if _, err := handler(context.Background(), &core.JobExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected wrong job id to be rejected")
	}
	bad := &core.JobExecutionMessage{
		JobID:      JobIDWebhookRetention,
		Parameters: map[string]any{ParamRetentionCutoff: "not-a-time"},
	}
	if _, err := handler(context.Background(), bad); err == nil {
		t.Fatalf("expected malformed cutoff to be rejected")
	}
}

func TestSnapshotHandlerSweep(t *testing.T) {
	source := staticSnapshotSource{
		ratelimit.Snapshot{Key: ratelimit.Key{Provider: "linear", OrgID: "org-1"}, Tokens: 3},
		ratelimit.Snapshot{Key: ratelimit.Key{Provider: "broken", OrgID: "org-1"}, Tokens: 1},
		ratelimit.Snapshot{Key: ratelimit.Key{Provider: "github", OrgID: "org-1"}, Tokens: 9},
	}
	store := &stubSnapshotStore{failProvider: "broken"}

	handler := SnapshotHandler(source, store)
	persisted, err := handler(context.Background())
	if err == nil {
		t.Fatalf("expected failing upsert to surface")
	}
	if persisted != 2 {
		t.Fatalf("expected sweep to continue past failure, persisted=%d", persisted)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("expected 2 stored snapshots, got %d", len(store.upserts))
	}

	if _, err := SnapshotHandler(nil, store)(context.Background()); err == nil {
		t.Fatalf("expected nil source to be rejected")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	msg := NewRetentionMessage(time.Hour, time.Now().UTC())
	if err := enqueueAdapter.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDWebhookRetention {
		t.Fatalf("expected mapped go-job message")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got := delivery.Message()
	if got == nil || got.JobID != JobIDWebhookRetention {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{JobID: JobIDSnapshotPersist},
	}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	evt := worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          JobIDWebhookRetention,
			IdempotencyKey: "idem-retention",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	}

	adapter.OnRetry(context.Background(), evt)
	if coreHook.last.Message == nil {
		t.Fatalf("expected worker message mapping")
	}
	if coreHook.last.Message.JobID != JobIDWebhookRetention {
		t.Fatalf("expected job id mapping, got %q", coreHook.last.Message.JobID)
	}
	if coreHook.last.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", coreHook.last.Attempt)
	}
	if coreHook.last.Delay != 5*time.Second {
		t.Fatalf("expected delay 5s, got %s", coreHook.last.Delay)
	}
	if coreHook.last.Duration != 250*time.Millisecond {
		t.Fatalf("expected duration mapping")
	}
	if coreHook.last.StartedAt.IsZero() {
		t.Fatalf("expected started_at mapping")
	}
	if coreHook.last.Err == nil || coreHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

type stubJanitor struct {
	purged int64
	cutoff time.Time
}

func (s *stubJanitor) PurgeProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.purged, nil
}

type staticSnapshotSource []ratelimit.Snapshot

func (s staticSnapshotSource) Snapshots() []ratelimit.Snapshot {
	return []ratelimit.Snapshot(s)
}

type stubSnapshotStore struct {
	failProvider string
	upserts      []ratelimit.Snapshot
}

func (s *stubSnapshotStore) Get(context.Context, ratelimit.Key) (ratelimit.Snapshot, error) {
	return ratelimit.Snapshot{}, ratelimit.ErrSnapshotNotFound
}

func (s *stubSnapshotStore) Upsert(_ context.Context, snapshot ratelimit.Snapshot) error {
	if snapshot.Key.Provider == s.failProvider {
		return errors.New("upsert failed")
	}
	s.upserts = append(s.upserts, snapshot)
	return nil
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}

var _ ratelimit.SnapshotStore = (*stubSnapshotStore)(nil)
