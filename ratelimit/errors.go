package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/worksync/go-trackers/core"
)

// LimitError reports a rejected acquisition: either the bucket is empty and
// queuing is disabled, or the wait queue is at capacity. Both are retryable
// and carry a backoff hint.
type LimitError struct {
	Provider   string
	RetryAfter time.Duration
	QueueFull  bool
}

func (e LimitError) Error() string {
	if e.QueueFull {
		return fmt.Sprintf(
			"ratelimit: provider %q queue is full, retry in %s",
			strings.TrimSpace(e.Provider),
			e.RetryAfter,
		)
	}
	return fmt.Sprintf(
		"ratelimit: provider %q limit exceeded, retry in %s",
		strings.TrimSpace(e.Provider),
		e.RetryAfter,
	)
}

func (e LimitError) ToTaxonomyError() *goerrors.Error {
	textCode := core.ErrorRateLimited
	if e.QueueFull {
		textCode = core.ErrorQueueFull
	}
	metadata := map[string]any{
		"provider": strings.TrimSpace(e.Provider),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(textCode).
		WithMetadata(metadata)
}

// ResetError is delivered to queued waiters discarded by Limiter.Reset.
type ResetError struct {
	Provider string
}

func (e ResetError) Error() string {
	return fmt.Sprintf("ratelimit: provider %q limiter was reset while waiting", strings.TrimSpace(e.Provider))
}

// ToTaxonomyError wraps the rejection in the shared error envelope. The
// bucket is full again after a reset, so callers may retry immediately.
func (e ResetError) ToTaxonomyError() *goerrors.Error {
	return core.WrapError(e, goerrors.CategoryConflict, e.Error(),
		http.StatusConflict, core.ErrorLimiterReset,
		map[string]any{"provider": strings.TrimSpace(e.Provider)})
}
