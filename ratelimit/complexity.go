package ratelimit

import (
	"sync"
	"time"
)

const defaultComplexityWindow = 60 * time.Second

// ComplexityTracker budgets point-cost APIs (GraphQL complexity scoring).
// It is deliberately decoupled from the request-rate Limiter: one HTTP call
// can be inside the request quota yet exceed the point budget, so adapters
// check both before issuing a query.
//
// The budget resets lazily: every read and write first checks whether the
// wall clock passed resetAt, no timers involved.
type ComplexityTracker struct {
	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time
	window    time.Duration
	now       func() time.Time
}

type ComplexityOption func(*ComplexityTracker)

func WithComplexityWindow(window time.Duration) ComplexityOption {
	return func(t *ComplexityTracker) {
		if window > 0 {
			t.window = window
		}
	}
}

func WithComplexityClock(now func() time.Time) ComplexityOption {
	return func(t *ComplexityTracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewComplexityTracker(limit int, options ...ComplexityOption) *ComplexityTracker {
	if limit < 0 {
		limit = 0
	}
	tracker := &ComplexityTracker{
		limit:     limit,
		remaining: limit,
		window:    defaultComplexityWindow,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(tracker)
	}
	tracker.resetAt = tracker.now().Add(tracker.window)
	return tracker
}

func (t *ComplexityTracker) CanExecute(cost int) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	return cost <= t.remaining
}

// RecordUsage debits the budget, flooring at zero.
func (t *ComplexityTracker) RecordUsage(cost int) {
	if t == nil || cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	t.remaining -= cost
	if t.remaining < 0 {
		t.remaining = 0
	}
}

// UpdateFromResponse adopts the budget the provider reported, clamped to
// [0, limit]. Providers are authoritative about their own accounting.
func (t *ComplexityTracker) UpdateFromResponse(remaining int, resetAt time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	if remaining > t.limit {
		remaining = t.limit
	}
	t.remaining = remaining
	if !resetAt.IsZero() {
		t.resetAt = resetAt.UTC()
	}
}

func (t *ComplexityTracker) Remaining() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	return t.remaining
}

func (t *ComplexityTracker) Limit() int {
	if t == nil {
		return 0
	}
	return t.limit
}

func (t *ComplexityTracker) ResetsAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	return t.resetAt
}

func (t *ComplexityTracker) maybeResetLocked() {
	now := t.now()
	if now.Before(t.resetAt) {
		return
	}
	t.remaining = t.limit
	t.resetAt = t.resetAt.Add(t.window)
	if !t.resetAt.After(now) {
		t.resetAt = now.Add(t.window)
	}
}
