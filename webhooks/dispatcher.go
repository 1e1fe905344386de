package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/worksync/go-trackers/core"
)

// HandshakeHeader is the header some providers send on webhook
// registration; the dispatcher echoes it back to confirm ownership.
const HandshakeHeader = "X-Hook-Secret"

// WildcardEventType subscribes a handler to every event type.
const WildcardEventType = "*"

var deliveryIDHeaders = []string{
	"X-Delivery-Id",
	"X-Webhook-Delivery-Id",
	"X-Request-Id",
}

// Event is one normalized webhook occurrence. Payload keeps the
// provider's raw shape for the mapping layer to consume.
type Event struct {
	Type         string         `json:"type"`
	Action       string         `json:"action,omitempty"`
	Timestamp    time.Time      `json:"timestamp,omitzero"`
	Source       string         `json:"source"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	DeliveryID   string         `json:"deliveryId,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Handler consumes one event. A handler error is logged and isolated;
// it never blocks the delivery response or sibling handlers.
type Handler func(ctx context.Context, event Event) error

// ParseFunc extracts the events a delivery carries. Providers batch
// differently, so one request may yield several events.
type ParseFunc func(req core.WebhookRequest) ([]Event, error)

type handlerEntry struct {
	id int64
	fn Handler
}

// Dispatcher runs the webhook intake sequence for one provider:
// handshake echo, challenge echo, signature verification, payload
// parsing, then handler fan-out in registration order with typed
// handlers ahead of wildcard subscribers.
type Dispatcher struct {
	Provider string
	Verifier Verifier
	Parse    ParseFunc
	Logger   core.Logger

	// Now is the clock used to stamp events missing a timestamp.
	Now func() time.Time

	mu       sync.RWMutex
	nextID   int64
	handlers map[string][]handlerEntry
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.Logger = logger
		}
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.Now = now
		}
	}
}

func NewDispatcher(provider string, verifier Verifier, parse ParseFunc, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		Provider: strings.TrimSpace(provider),
		Verifier: verifier,
		Parse:    parse,
		Logger:   glog.Nop(),
		Now:      time.Now,
		handlers: map[string][]handlerEntry{},
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// NewDispatcherFromConfig wires the verifier from the provider's
// webhook configuration and falls back to the generic JSON parser.
func NewDispatcherFromConfig(provider string, cfg core.WebhookConfig, parse ParseFunc, options ...DispatcherOption) (*Dispatcher, error) {
	verifier, err := NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if parse == nil {
		parse = GenericJSONParser(provider)
	}
	return NewDispatcher(provider, verifier, parse, options...), nil
}

// On subscribes a handler to an event type, or to every event with
// WildcardEventType. The returned function unsubscribes; calling it
// more than once is harmless.
func (d *Dispatcher) On(eventType string, handler Handler) (func(), error) {
	if d == nil {
		return nil, core.InternalError("dispatcher is nil", nil)
	}
	if handler == nil {
		return nil, core.BadInputError("handler is nil", map[string]any{"event_type": eventType})
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, core.BadInputError("event type is required", nil)
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], handlerEntry{id: id, fn: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.off(eventType, id) })
	}, nil
}

func (d *Dispatcher) off(eventType string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.handlers[eventType]
	for i, entry := range entries {
		if entry.id == id {
			d.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[eventType]) == 0 {
		delete(d.handlers, eventType)
	}
}

// HandleRequest runs the full intake sequence and produces the HTTP
// response the transport should return. Handler failures do not change
// the response; the delivery was authenticated and parsed, so the
// provider must not retry it.
func (d *Dispatcher) HandleRequest(ctx context.Context, req core.WebhookRequest) (core.WebhookResponse, error) {
	if d == nil {
		return core.WebhookResponse{}, core.InternalError("dispatcher is nil", nil)
	}
	if req.Provider == "" {
		req.Provider = d.Provider
	}

	if secret := core.HeaderValue(req.Headers, HandshakeHeader); secret != "" {
		d.Logger.Info("webhook handshake acknowledged", "provider", req.Provider)
		return core.WebhookResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{HandshakeHeader: secret},
		}, nil
	}

	if challenge, ok := challengeValue(req.Body); ok {
		d.Logger.Info("webhook challenge echoed", "provider", req.Provider)
		body, err := json.Marshal(map[string]string{"challenge": challenge})
		if err != nil {
			return core.WebhookResponse{StatusCode: http.StatusInternalServerError}, core.InternalError("encode challenge response", nil)
		}
		return core.WebhookResponse{
			StatusCode: http.StatusOK,
			Body:       string(body),
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, nil
	}

	if d.Verifier != nil {
		if err := d.Verifier.Verify(ctx, req); err != nil {
			d.Logger.Warn("webhook signature rejected", "provider", req.Provider, "error", err)
			return core.WebhookResponse{StatusCode: http.StatusUnauthorized}, err
		}
	}

	events, err := d.parseEvents(req)
	if err != nil {
		d.Logger.Warn("webhook payload rejected", "provider", req.Provider, "error", err)
		return core.WebhookResponse{StatusCode: http.StatusBadRequest}, core.WrapError(
			err,
			goerrors.CategoryBadInput,
			"webhook payload is malformed",
			http.StatusBadRequest,
			core.ErrorPayloadMalformed,
			map[string]any{"provider": req.Provider},
		)
	}

	for _, event := range events {
		d.dispatch(ctx, event)
	}
	return core.WebhookResponse{StatusCode: http.StatusOK}, nil
}

func (d *Dispatcher) parseEvents(req core.WebhookRequest) ([]Event, error) {
	parse := d.Parse
	if parse == nil {
		parse = GenericJSONParser(d.Provider)
	}
	events, err := parse(req)
	if err != nil {
		return nil, err
	}
	deliveryID := DeliveryID(req.Headers)
	for i := range events {
		if events[i].Source == "" {
			events[i].Source = req.Provider
		}
		if events[i].DeliveryID == "" {
			events[i].DeliveryID = deliveryID
		}
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = d.Now()
		}
	}
	return events, nil
}

// dispatch fans one event out to its typed handlers, then wildcard
// subscribers, preserving registration order within each group.
func (d *Dispatcher) dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	entries := make([]handlerEntry, 0, len(d.handlers[event.Type])+len(d.handlers[WildcardEventType]))
	entries = append(entries, d.handlers[event.Type]...)
	if event.Type != WildcardEventType {
		entries = append(entries, d.handlers[WildcardEventType]...)
	}
	d.mu.RUnlock()

	for _, entry := range entries {
		if err := entry.fn(ctx, event); err != nil {
			d.Logger.Error("webhook handler failed",
				"provider", d.Provider,
				"event_type", event.Type,
				"delivery_id", event.DeliveryID,
				"error", err,
			)
		}
	}
}

// DeliveryID resolves the provider's delivery identifier from the
// common header spellings. Empty when the provider sends none.
func DeliveryID(headers map[string]string) string {
	for _, key := range deliveryIDHeaders {
		if value := core.HeaderValue(headers, key); value != "" {
			return value
		}
	}
	return ""
}

// challengeValue detects the slack/monday verification shape: a JSON
// object whose challenge field must be echoed back verbatim.
func challengeValue(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", false
	}
	if probe.Challenge == "" {
		return "", false
	}
	if probe.Type != "" && probe.Type != "url_verification" {
		return "", false
	}
	return probe.Challenge, true
}

// GenericJSONParser decodes a single-event JSON object using the
// common field spellings for type, action, and resource identity.
func GenericJSONParser(provider string) ParseFunc {
	return func(req core.WebhookRequest) ([]Event, error) {
		var payload map[string]any
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		event := Event{
			Type:    stringAt(payload, "type", "event", "event_type", "action"),
			Action:  stringAt(payload, "action"),
			Source:  provider,
			Payload: payload,
		}
		if event.Type == "" {
			return nil, fmt.Errorf("payload carries no event type")
		}
		return []Event{event}, nil
	}
}

func stringAt(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
