package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/worksync/go-trackers/core"
)

const defaultQueueSize = 64

type Config struct {
	Provider    string
	MaxRequests int
	Window      time.Duration
	// Burst caps the bucket; zero means MaxRequests.
	Burst       int
	EnableQueue bool
	// QueueSize bounds pending waiters when queuing is enabled; zero means
	// the package default.
	QueueSize int
	Now       func() time.Time
	Logger    core.Logger
}

type waiter struct {
	done chan error
}

// Limiter is a continuously refilling token bucket. Tokens accrue at
// MaxRequests per Window and never exceed Burst. Acquire may park the caller
// in a FIFO queue drained by a single re-armed timer.
type Limiter struct {
	provider    string
	maxRequests int
	window      time.Duration
	burst       int
	enableQueue bool
	queueSize   int
	now         func() time.Time
	logger      core.Logger

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	queue      []*waiter
	timer      *time.Timer
}

func NewLimiter(cfg Config) (*Limiter, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider == "" {
		return nil, core.BadInputError("ratelimit: provider is required", nil)
	}
	if cfg.MaxRequests <= 0 {
		return nil, core.BadInputError("ratelimit: max requests must be positive", map[string]any{"provider": provider})
	}
	if cfg.Window <= 0 {
		return nil, core.BadInputError("ratelimit: window must be positive", map[string]any{"provider": provider})
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.MaxRequests
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	limiter := &Limiter{
		provider:    provider,
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		burst:       burst,
		enableQueue: cfg.EnableQueue,
		queueSize:   queueSize,
		now:         now,
		logger:      logger,
		tokens:      float64(burst),
	}
	limiter.lastRefill = now()
	return limiter, nil
}

// NewLimiterFromConfig builds a limiter from the core configuration shape.
func NewLimiterFromConfig(provider string, cfg core.RateLimitConfig) (*Limiter, error) {
	return NewLimiter(Config{
		Provider:    provider,
		MaxRequests: cfg.MaxRequests,
		Window:      time.Duration(cfg.WindowMS) * time.Millisecond,
		Burst:       cfg.Burst,
		EnableQueue: cfg.EnableQueue,
		QueueSize:   cfg.QueueSize,
	})
}

func (l *Limiter) Provider() string {
	if l == nil {
		return ""
	}
	return l.provider
}

// TryAcquire consumes one token if available. It never blocks and leaves the
// bucket untouched on failure.
func (l *Limiter) TryAcquire() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Acquire consumes one token, parking the caller in FIFO order when the
// bucket is empty and queuing is enabled. Queue overflow and disabled
// queuing both fail fast with a retryable LimitError. A waiter abandoned via
// ctx releases its slot; Reset rejects all waiters immediately.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return fmt.Errorf("ratelimit: limiter is nil")
	}
	l.mu.Lock()
	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}
	retryAfter := l.timeUntilNextTokenLocked()
	if !l.enableQueue {
		l.mu.Unlock()
		return LimitError{Provider: l.provider, RetryAfter: retryAfter}.ToTaxonomyError()
	}
	if len(l.queue) >= l.queueSize {
		l.mu.Unlock()
		return LimitError{Provider: l.provider, RetryAfter: retryAfter, QueueFull: true}.ToTaxonomyError()
	}
	w := &waiter{done: make(chan error, 1)}
	l.queue = append(l.queue, w)
	l.armTimerLocked(retryAfter)
	l.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		l.abandon(w)
		return ctx.Err()
	}
}

// RemainingTokens reports whole tokens currently available.
func (l *Limiter) RemainingTokens() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return int(l.tokens)
}

// TimeUntilNextToken reports how long until one full token is available;
// zero when a token is ready now.
func (l *Limiter) TimeUntilNextToken() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.timeUntilNextTokenLocked()
}

// Reset restores the full burst and rejects every queued waiter. This is a
// hard cutover: the queue is discarded, not drained against the refilled
// bucket.
func (l *Limiter) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.tokens = float64(l.burst)
	l.lastRefill = l.now()
	rejected := l.queue
	l.queue = nil
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()

	if len(rejected) > 0 {
		l.logger.Warn("rate limiter reset rejected queued waiters",
			"provider", l.provider,
			"rejected", len(rejected),
		)
	}
	for _, w := range rejected {
		w.done <- ResetError{Provider: l.provider}.ToTaxonomyError()
	}
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed > 0 {
		l.tokens += elapsed.Seconds() / l.window.Seconds() * float64(l.maxRequests)
		if l.tokens > float64(l.burst) {
			l.tokens = float64(l.burst)
		}
	}
	l.lastRefill = now
}

func (l *Limiter) timeUntilNextTokenLocked() time.Duration {
	if l.tokens >= 1 {
		return 0
	}
	perToken := l.window.Seconds() / float64(l.maxRequests)
	wait := (1 - l.tokens) * perToken
	return time.Duration(wait * float64(time.Second))
}

func (l *Limiter) armTimerLocked(wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(wait, l.drain)
		return
	}
	l.timer.Reset(wait)
}

// drain grants tokens to queued waiters in arrival order, then re-arms the
// timer if waiters remain.
func (l *Limiter) drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	l.grantLocked()
}

func (l *Limiter) grantLocked() {
	for l.tokens >= 1 && len(l.queue) > 0 {
		w := l.queue[0]
		l.queue = l.queue[1:]
		l.tokens--
		w.done <- nil
	}
	if len(l.queue) > 0 {
		l.armTimerLocked(l.timeUntilNextTokenLocked())
	}
}

// abandon removes a waiter whose context was cancelled. When the grant has
// already been delivered the token is credited back so cancellation never
// leaks capacity.
func (l *Limiter) abandon(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, queued := range l.queue {
		if queued == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
	select {
	case err := <-w.done:
		if err == nil {
			l.tokens++
			if l.tokens > float64(l.burst) {
				l.tokens = float64(l.burst)
			}
			l.grantLocked()
		}
	default:
	}
}
