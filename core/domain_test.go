package core

import (
	"testing"
	"time"
)

func TestTaskValidateRequiresIdentity(t *testing.T) {
	task := Task{Provider: "linear"}
	if err := task.Validate(); err == nil {
		t.Fatalf("expected error for missing external id")
	}

	task = Task{ExternalID: "ISSUE-1"}
	if err := task.Validate(); err == nil {
		t.Fatalf("expected error for missing provider")
	}

	task = Task{ExternalID: "ISSUE-1", Provider: "linear", Status: Status{Category: StatusDone}}
	if err := task.Validate(); err != nil {
		t.Fatalf("expected valid task, got %v", err)
	}
}

func TestTaskValidateRejectsUnknownStatusCategory(t *testing.T) {
	task := Task{
		ExternalID: "ISSUE-2",
		Provider:   "jira",
		Status:     Status{Category: StatusCategory("blocked")},
	}
	if err := task.Validate(); err == nil {
		t.Fatalf("expected error for category outside the closed set")
	}
}

func TestPriorityNameClampsLadder(t *testing.T) {
	cases := []struct {
		level int
		want  string
	}{
		{-3, "None"},
		{0, "None"},
		{1, "Low"},
		{2, "Medium"},
		{3, "High"},
		{4, "Urgent"},
		{9, "Urgent"},
	}
	for _, tc := range cases {
		if got := PriorityName(tc.level); got != tc.want {
			t.Fatalf("PriorityName(%d) = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestDecodeTaskRoundTrip(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := Task{
		ExternalID: "TRK-9",
		Provider:   "asana",
		Title:      "Ship the importer",
		Status:     Status{Category: StatusInProgress, Name: "Doing"},
		Priority:   Priority{Level: PriorityHigh, Name: "High"},
		Labels:     []string{"infra", "sync"},
		DueAt:      &due,
		CustomFields: map[string]any{
			"story_points": float64(5),
		},
	}

	record, err := EncodeRecord(original)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	decoded, err := DecodeTask(record)
	if err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if decoded.ExternalID != original.ExternalID || decoded.Provider != original.Provider {
		t.Fatalf("identity lost in round trip: %+v", decoded)
	}
	if decoded.Status.Category != StatusInProgress {
		t.Fatalf("expected in_progress status, got %q", decoded.Status.Category)
	}
	if decoded.Priority.Level != PriorityHigh {
		t.Fatalf("expected high priority, got %d", decoded.Priority.Level)
	}
	if decoded.DueAt == nil || !decoded.DueAt.Equal(due) {
		t.Fatalf("expected due date preserved, got %+v", decoded.DueAt)
	}
	if decoded.CustomFields["story_points"] != float64(5) {
		t.Fatalf("expected custom field preserved, got %+v", decoded.CustomFields)
	}
}

func TestHeaderValueMatchesCaseInsensitively(t *testing.T) {
	headers := map[string]string{"X-Delivery-Id": " dlv_42 "}
	if got := HeaderValue(headers, "x-delivery-id"); got != "dlv_42" {
		t.Fatalf("expected trimmed case-insensitive match, got %q", got)
	}
	if got := HeaderValue(headers, "x-missing"); got != "" {
		t.Fatalf("expected empty value for missing header, got %q", got)
	}
}
