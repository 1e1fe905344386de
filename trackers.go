// Package trackers composes the per-provider runtimes a host needs to
// talk to work-tracking SaaS APIs: a token-bucket limiter and
// complexity budget in front of outbound calls, and a verified webhook
// dispatcher for inbound traffic. Construct a Registry from Config and
// pull the Runtime for each configured provider.
package trackers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/worksync/go-trackers/core"
	"github.com/worksync/go-trackers/ratelimit"
	"github.com/worksync/go-trackers/webhooks"
)

// Re-exported configuration surface so hosts can depend on the root
// package alone.
type Config = core.Config

type ProviderConfig = core.ProviderConfig

type RateLimitConfig = core.RateLimitConfig

type WebhookConfig = core.WebhookConfig

type Event = webhooks.Event

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// TemplateFactory builds the webhook verification/parsing template for
// one provider from its configuration.
type TemplateFactory func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error)

// builtinTemplateFactories covers the trackers this module ships
// first-class webhook handling for. Anything else falls back to the
// configured signing scheme plus the generic JSON parser.
func builtinTemplateFactories() map[string]TemplateFactory {
	return map[string]TemplateFactory{
		"linear": func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error) {
			return webhooks.NewLinearWebhookTemplate(cfg.Webhook.Secret), nil
		},
		"github": func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error) {
			return webhooks.NewGitHubWebhookTemplate(cfg.Webhook.Secret), nil
		},
		"trello": func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error) {
			if strings.TrimSpace(cfg.Webhook.CallbackURL) == "" {
				return webhooks.ProviderWebhookTemplate{}, core.ConfigError(
					"trello webhooks require webhook.callback_url", nil)
			}
			return webhooks.NewTrelloWebhookTemplate(cfg.Webhook.Secret, cfg.Webhook.CallbackURL), nil
		},
		"asana": func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error) {
			return webhooks.NewAsanaWebhookTemplate(cfg.Webhook.Secret), nil
		},
		"monday": func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error) {
			return webhooks.NewMondayWebhookTemplate(cfg.Webhook.Token), nil
		},
		"slack": func(cfg core.ProviderConfig) (webhooks.ProviderWebhookTemplate, error) {
			return webhooks.NewSlackWebhookTemplate(cfg.Webhook.Secret), nil
		},
	}
}

// Runtime bundles the per-provider pieces.
type Runtime struct {
	Provider   string
	Limiter    *ratelimit.Limiter
	Complexity *ratelimit.ComplexityTracker
	Dispatcher *webhooks.Dispatcher
}

// Registry holds one Runtime per configured provider.
type Registry struct {
	logger    core.Logger
	presets   ratelimit.PresetTable
	factories map[string]TemplateFactory
	parsers   map[string]webhooks.ParseFunc
	runtimes  map[string]*Runtime
}

type Option func(*Registry)

func WithLogger(logger core.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPresets replaces the published rate-limit envelopes used when a
// provider's config carries no explicit limits.
func WithPresets(table ratelimit.PresetTable) Option {
	return func(r *Registry) {
		if table != nil {
			r.presets = table
		}
	}
}

// WithTemplateFactory installs or overrides the webhook template for
// one provider.
func WithTemplateFactory(provider string, factory TemplateFactory) Option {
	return func(r *Registry) {
		name := strings.TrimSpace(strings.ToLower(provider))
		if name == "" || factory == nil {
			return
		}
		r.factories[name] = factory
	}
}

// WithParser overrides the payload parser for a provider that uses
// scheme-based verification without a template.
func WithParser(provider string, parse webhooks.ParseFunc) Option {
	return func(r *Registry) {
		name := strings.TrimSpace(strings.ToLower(provider))
		if name == "" || parse == nil {
			return
		}
		r.parsers[name] = parse
	}
}

// New builds a Registry from cfg. Every configured provider gets a
// limiter (explicit limits win over presets), an optional complexity
// tracker, and a webhook dispatcher.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := &Registry{
		logger:    glog.Nop(),
		presets:   ratelimit.DefaultPresets(),
		factories: builtinTemplateFactories(),
		parsers:   map[string]webhooks.ParseFunc{},
		runtimes:  map[string]*Runtime{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(registry)
	}

	for name, providerCfg := range cfg.Providers {
		provider := strings.TrimSpace(strings.ToLower(name))
		runtime, err := registry.buildRuntime(provider, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("trackers: provider %q: %w", provider, err)
		}
		registry.runtimes[provider] = runtime
	}
	return registry, nil
}

func (r *Registry) buildRuntime(provider string, cfg core.ProviderConfig) (*Runtime, error) {
	var limiter *ratelimit.Limiter
	var err error
	if cfg.RateLimit.MaxRequests > 0 {
		limiter, err = ratelimit.NewLimiterFromConfig(provider, cfg.RateLimit)
	} else {
		limiter, err = r.presets.NewLimiterFor(provider)
	}
	if err != nil {
		return nil, err
	}

	var complexity *ratelimit.ComplexityTracker
	if cfg.Complexity.Limit > 0 {
		var options []ratelimit.ComplexityOption
		if cfg.Complexity.WindowMS > 0 {
			options = append(options,
				ratelimit.WithComplexityWindow(time.Duration(cfg.Complexity.WindowMS)*time.Millisecond))
		}
		complexity = ratelimit.NewComplexityTracker(cfg.Complexity.Limit, options...)
	}

	dispatcher, err := r.buildDispatcher(provider, cfg)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Provider:   provider,
		Limiter:    limiter,
		Complexity: complexity,
		Dispatcher: dispatcher,
	}, nil
}

func (r *Registry) buildDispatcher(provider string, cfg core.ProviderConfig) (*webhooks.Dispatcher, error) {
	if factory, ok := r.factories[provider]; ok {
		template, err := factory(cfg)
		if err != nil {
			return nil, err
		}
		return template.NewDispatcher(webhooks.WithDispatcherLogger(r.logger)), nil
	}

	parse := r.parsers[provider]
	if parse == nil {
		parse = webhooks.GenericJSONParser(provider)
	}
	return webhooks.NewDispatcherFromConfig(provider, cfg.Webhook, parse,
		webhooks.WithDispatcherLogger(r.logger))
}

// Runtime returns the runtime for provider.
func (r *Registry) Runtime(provider string) (*Runtime, error) {
	name := strings.TrimSpace(strings.ToLower(provider))
	runtime, ok := r.runtimes[name]
	if !ok {
		return nil, core.NewError(
			fmt.Sprintf("trackers: provider %q is not configured", provider),
			goerrors.CategoryValidation,
			http.StatusInternalServerError,
			core.ErrorProviderUnknown,
			map[string]any{"provider": name},
		)
	}
	return runtime, nil
}

// Providers lists configured provider names in sorted order.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HandleWebhook routes an inbound request to the dispatcher for
// req.Provider.
func (r *Registry) HandleWebhook(ctx context.Context, req core.WebhookRequest) (core.WebhookResponse, error) {
	runtime, err := r.Runtime(req.Provider)
	if err != nil {
		return core.WebhookResponse{StatusCode: http.StatusNotFound, Body: `{"error":"unknown provider"}`}, err
	}
	return runtime.Dispatcher.HandleRequest(ctx, req)
}

// SnapshotSource adapts the registry's limiters for the snapshot
// persistence job. All snapshots carry orgID.
func (r *Registry) SnapshotSource(orgID string) RegistrySnapshotSource {
	return RegistrySnapshotSource{registry: r, orgID: orgID}
}

type RegistrySnapshotSource struct {
	registry *Registry
	orgID    string
}

func (s RegistrySnapshotSource) Snapshots() []ratelimit.Snapshot {
	if s.registry == nil {
		return nil
	}
	names := s.registry.Providers()
	out := make([]ratelimit.Snapshot, 0, len(names))
	for _, name := range names {
		runtime := s.registry.runtimes[name]
		if runtime == nil || runtime.Limiter == nil {
			continue
		}
		out = append(out, runtime.Limiter.Snapshot(s.orgID))
	}
	return out
}

// RestoreSnapshots loads persisted limiter state for every configured
// provider. Missing snapshots are skipped; other store failures abort.
func (r *Registry) RestoreSnapshots(ctx context.Context, store ratelimit.SnapshotStore, orgID string) error {
	if store == nil {
		return core.BadInputError("trackers: snapshot store is required", nil)
	}
	for _, name := range r.Providers() {
		runtime := r.runtimes[name]
		snapshot, err := store.Get(ctx, ratelimit.Key{Provider: name, OrgID: orgID})
		if err != nil {
			if errors.Is(err, ratelimit.ErrSnapshotNotFound) {
				continue
			}
			return err
		}
		runtime.Limiter.RestoreSnapshot(snapshot)
	}
	return nil
}
