package devkit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/worksync/go-trackers/core"
	"github.com/worksync/go-trackers/mapping"
	"github.com/worksync/go-trackers/ratelimit"
	"github.com/worksync/go-trackers/webhooks"
)

const defaultSecret = "devkit-secret"

// Config tunes the devkit runtime. Zero value works: a small queued
// limiter, a 1000-point complexity budget, and the fixture secret.
type Config struct {
	Secret          string
	Preset          ratelimit.Preset
	ComplexityLimit int
	Logger          core.Logger
}

// Runtime composes the full intake path for the devkit provider:
// limiter and complexity budget in front, mapper for normalization,
// dispatcher plus in-memory ledger for webhook traffic.
type Runtime struct {
	limiter    *ratelimit.Limiter
	complexity *ratelimit.ComplexityTracker
	mapper     *mapping.Mapper
	dispatcher *webhooks.Dispatcher
	ledger     *MemoryDeliveryLedger
	secret     string
	rules      []mapping.Rule
	logger     core.Logger
}

func New(cfg Config) (*Runtime, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		secret = defaultSecret
	}
	preset := cfg.Preset
	if preset.MaxRequests == 0 {
		preset = ratelimit.Preset{
			MaxRequests: 60,
			Window:      time.Minute,
			Burst:       10,
			EnableQueue: true,
			QueueSize:   16,
		}
	}
	complexityLimit := cfg.ComplexityLimit
	if complexityLimit <= 0 {
		complexityLimit = 1000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Provider:    ProviderID,
		MaxRequests: preset.MaxRequests,
		Window:      preset.Window,
		Burst:       preset.Burst,
		EnableQueue: preset.EnableQueue,
		QueueSize:   preset.QueueSize,
	})
	if err != nil {
		return nil, err
	}

	mapper := mapping.NewMapper(mapping.WithLogger(logger))
	rules := IssueRules()
	if err := mapper.ValidateRules(rules); err != nil {
		return nil, err
	}

	verifier, err := webhooks.NewVerifier(core.WebhookConfig{
		Scheme: webhooks.SchemeHMACSHA256,
		Secret: secret,
	})
	if err != nil {
		return nil, err
	}
	dispatcher := webhooks.NewDispatcher(
		ProviderID,
		verifier,
		webhooks.GenericJSONParser(ProviderID),
		webhooks.WithDispatcherLogger(logger),
	)

	return &Runtime{
		limiter:    limiter,
		complexity: ratelimit.NewComplexityTracker(complexityLimit),
		mapper:     mapper,
		dispatcher: dispatcher,
		ledger:     NewMemoryDeliveryLedger(),
		secret:     secret,
		rules:      rules,
		logger:     logger,
	}, nil
}

func (r *Runtime) Limiter() *ratelimit.Limiter              { return r.limiter }
func (r *Runtime) Complexity() *ratelimit.ComplexityTracker { return r.complexity }
func (r *Runtime) Mapper() *mapping.Mapper                  { return r.mapper }
func (r *Runtime) Dispatcher() *webhooks.Dispatcher         { return r.dispatcher }
func (r *Runtime) Ledger() *MemoryDeliveryLedger            { return r.ledger }

// NormalizeIssue converts a provider record into the universal shape.
// It consumes one request token (waiting in the queue if needed) and
// cost complexity points.
func (r *Runtime) NormalizeIssue(ctx context.Context, record map[string]any, cost int) (map[string]any, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if cost > 0 {
		if !r.complexity.CanExecute(cost) {
			return nil, ratelimit.LimitError{
				Provider:   ProviderID,
				RetryAfter: time.Until(r.complexity.ResetsAt()),
			}.ToTaxonomyError()
		}
		r.complexity.RecordUsage(cost)
	}
	return r.mapper.ToUniversal(record, ProviderID, r.rules, TransformContext())
}

// DenormalizeIssue maps a universal record back into provider shape.
func (r *Runtime) DenormalizeIssue(universal map[string]any) (map[string]any, error) {
	return r.mapper.FromUniversal(universal, ProviderID, r.rules, TransformContext())
}

// SignBody produces the hex HMAC-SHA256 digest webhook requests carry
// in X-Signature. Exposed so hosts can fabricate valid deliveries.
func (r *Runtime) SignBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(r.secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// IngestWebhook reserves the delivery id in the ledger, runs the
// dispatcher state machine, and records the outcome. Duplicate
// deliveries short-circuit with 200 without invoking handlers.
func (r *Runtime) IngestWebhook(ctx context.Context, req core.WebhookRequest) (core.WebhookResponse, error) {
	deliveryID := webhooks.DeliveryID(req.Headers)
	if deliveryID != "" {
		_, duplicate, err := r.ledger.Reserve(ctx, ProviderID, deliveryID, req.Body)
		if err != nil {
			return core.WebhookResponse{StatusCode: 500}, err
		}
		if duplicate {
			return core.WebhookResponse{StatusCode: 200, Body: `{"status":"duplicate"}`}, nil
		}
	}

	resp, err := r.dispatcher.HandleRequest(ctx, req)
	if deliveryID != "" {
		switch {
		case err == nil && resp.StatusCode == 200:
			if markErr := r.ledger.MarkProcessed(ctx, ProviderID, deliveryID); markErr != nil {
				r.logger.Warn("devkit: mark processed failed", "delivery_id", deliveryID, "error", markErr)
			}
		default:
			retryAt := time.Now().UTC().Add(time.Minute)
			if markErr := r.ledger.MarkRetry(ctx, ProviderID, deliveryID, err, retryAt); markErr != nil {
				r.logger.Warn("devkit: mark retry failed", "delivery_id", deliveryID, "error", markErr)
			}
		}
	}
	return resp, err
}
