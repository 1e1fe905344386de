package devkit

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/worksync/go-trackers/core"
	"github.com/worksync/go-trackers/ratelimit"
	"github.com/worksync/go-trackers/webhooks"
)

func TestNormalizeIssueEndToEnd(t *testing.T) {
	runtime, err := New(Config{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	universal, err := runtime.NormalizeIssue(context.Background(), SampleIssue(), 5)
	if err != nil {
		t.Fatalf("normalize issue: %v", err)
	}

	if got := universal["external_id"]; got != "issue-1001" {
		t.Fatalf("expected external_id issue-1001, got %v", got)
	}
	if got := universal["title"]; got != "Fix login redirect" {
		t.Fatalf("expected title mapping, got %v", got)
	}

	status, ok := universal["status"].(map[string]any)
	if !ok {
		t.Fatalf("expected encoded status, got %T", universal["status"])
	}
	if status["category"] != "in_progress" {
		t.Fatalf("expected in_progress category, got %v", status["category"])
	}

	priority, ok := universal["priority"].(map[string]any)
	if !ok {
		t.Fatalf("expected encoded priority, got %T", universal["priority"])
	}
	if priority["level"] != float64(4) {
		t.Fatalf("expected clamped urgent level, got %v", priority["level"])
	}

	assignee, ok := universal["assignee"].(map[string]any)
	if !ok {
		t.Fatalf("expected encoded assignee, got %T", universal["assignee"])
	}
	if assignee["id"] != "u-1" {
		t.Fatalf("expected roster resolution to u-1, got %v", assignee["id"])
	}

	watchers, ok := universal["watchers"].([]any)
	if !ok || len(watchers) != 2 {
		t.Fatalf("expected two watchers, got %v", universal["watchers"])
	}

	if got, want := universal["labels"], []string{"auth", "regression"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected labels %v, got %v", want, got)
	}
	if got := universal["due_date"]; got != "2026-04-15T00:00:00Z" {
		t.Fatalf("expected normalized due date, got %v", got)
	}
	if got := universal["created_at"]; got != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected epoch millis converted to RFC 3339, got %v", got)
	}
	if got := universal["project_id"]; got != "proj-7" {
		t.Fatalf("expected nested path mapping, got %v", got)
	}
	metadata, ok := universal["metadata"].(map[string]any)
	if !ok || metadata["story_points"] != 5 {
		t.Fatalf("expected indexed custom field mapping, got %v", universal["metadata"])
	}

	provider, err := runtime.DenormalizeIssue(universal)
	if err != nil {
		t.Fatalf("denormalize issue: %v", err)
	}
	if provider["gid"] != "issue-1001" {
		t.Fatalf("expected round-trip gid, got %v", provider["gid"])
	}
	if provider["state"] != "In Progress" {
		t.Fatalf("expected raw status label on the way out, got %v", provider["state"])
	}
	if provider["created_at"] != int64(1767225600000) {
		t.Fatalf("expected epoch millis on the way out, got %v", provider["created_at"])
	}
}

func TestRequestAndComplexityBudgets(t *testing.T) {
	runtime, err := New(Config{
		Preset: ratelimit.Preset{
			MaxRequests: 2,
			Window:      time.Hour,
			Burst:       2,
		},
		ComplexityLimit: 10,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	ctx := context.Background()
	if _, err := runtime.NormalizeIssue(ctx, SampleIssue(), 6); err != nil {
		t.Fatalf("first call within budget: %v", err)
	}
	if _, err := runtime.NormalizeIssue(ctx, SampleIssue(), 6); err == nil {
		t.Fatalf("expected complexity budget rejection")
	} else if !core.IsErrorCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected rate limited code, got %v", err)
	}

	// second token was consumed despite the complexity rejection, so the
	// request budget is now exhausted too
	if _, err := runtime.NormalizeIssue(ctx, SampleIssue(), 0); err == nil {
		t.Fatalf("expected request budget rejection")
	} else if !core.IsErrorCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected rate limited code, got %v", err)
	}
}

func TestIngestWebhookDedup(t *testing.T) {
	runtime, err := New(Config{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	handled := 0
	if _, err := runtime.Dispatcher().On("task.updated", func(context.Context, webhooks.Event) error {
		handled++
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	body := []byte(`{"type":"task.updated","id":"issue-1001"}`)
	req := core.WebhookRequest{
		Provider: ProviderID,
		Headers: map[string]string{
			"X-Signature":   runtime.SignBody(body),
			"X-Delivery-Id": "delivery-1",
		},
		Body: body,
	}

	ctx := context.Background()
	resp, err := runtime.IngestWebhook(ctx, req)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if handled != 1 {
		t.Fatalf("expected handler invocation, got %d", handled)
	}

	record, err := runtime.Ledger().Get(ctx, ProviderID, "delivery-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusProcessed {
		t.Fatalf("expected processed, got %q", record.Status)
	}

	resp, err = runtime.IngestWebhook(ctx, req)
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if resp.StatusCode != 200 || resp.Body != `{"status":"duplicate"}` {
		t.Fatalf("expected duplicate short-circuit, got %d %q", resp.StatusCode, resp.Body)
	}
	if handled != 1 {
		t.Fatalf("expected duplicate to skip handlers, got %d invocations", handled)
	}
}

func TestIngestWebhookBadSignatureSchedulesRetry(t *testing.T) {
	runtime, err := New(Config{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	body := []byte(`{"type":"task.updated"}`)
	req := core.WebhookRequest{
		Provider: ProviderID,
		Headers: map[string]string{
			"X-Signature":   "deadbeef",
			"X-Delivery-Id": "delivery-2",
		},
		Body: body,
	}

	ctx := context.Background()
	resp, err := runtime.IngestWebhook(ctx, req)
	if err == nil {
		t.Fatalf("expected verification failure")
	}
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	record, err := runtime.Ledger().Get(ctx, ProviderID, "delivery-2")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusRetryReady {
		t.Fatalf("expected retry_ready, got %q", record.Status)
	}
	if record.NextAttemptAt == nil {
		t.Fatalf("expected retry schedule")
	}
}

func TestMemoryFixturesConformance(t *testing.T) {
	ctx := context.Background()
	if err := ValidateDeliveryLedgerConformance(ctx, NewMemoryDeliveryLedger(), ProviderID, "conf-1"); err != nil {
		t.Fatalf("delivery ledger conformance: %v", err)
	}
	if err := ValidateSnapshotStoreConformance(ctx, NewMemorySnapshotStore(), ratelimit.Key{Provider: "DevKit", OrgID: "org-1"}); err != nil {
		t.Fatalf("snapshot store conformance: %v", err)
	}
}
