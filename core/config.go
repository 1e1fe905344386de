package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type RateLimitConfig struct {
	MaxRequests int   `koanf:"max_requests" mapstructure:"max_requests"`
	WindowMS    int64 `koanf:"window_ms" mapstructure:"window_ms"`
	Burst       int   `koanf:"burst" mapstructure:"burst"`
	QueueSize   int   `koanf:"queue_size" mapstructure:"queue_size"`
	EnableQueue bool  `koanf:"enable_queue" mapstructure:"enable_queue"`
}

type ComplexityConfig struct {
	Limit    int   `koanf:"limit" mapstructure:"limit"`
	WindowMS int64 `koanf:"window_ms" mapstructure:"window_ms"`
}

type WebhookConfig struct {
	Scheme      string `koanf:"scheme" mapstructure:"scheme"`
	Secret      string `koanf:"secret" mapstructure:"secret"`
	Token       string `koanf:"token" mapstructure:"token"`
	CallbackURL string `koanf:"callback_url" mapstructure:"callback_url"`
}

type ProviderConfig struct {
	RateLimit  RateLimitConfig  `koanf:"rate_limit" mapstructure:"rate_limit"`
	Complexity ComplexityConfig `koanf:"complexity" mapstructure:"complexity"`
	Webhook    WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "trackers",
		Providers:   map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("core: provider name is required")
		}
		if err := provider.Validate(); err != nil {
			return fmt.Errorf("core: provider %q: %w", name, err)
		}
	}
	return nil
}

func (c ProviderConfig) Validate() error {
	if c.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must not be negative")
	}
	if c.RateLimit.WindowMS < 0 {
		return fmt.Errorf("rate_limit.window_ms must not be negative")
	}
	if c.RateLimit.QueueSize < 0 {
		return fmt.Errorf("rate_limit.queue_size must not be negative")
	}
	if c.Complexity.Limit < 0 {
		return fmt.Errorf("complexity.limit must not be negative")
	}
	scheme := strings.TrimSpace(strings.ToLower(c.Webhook.Scheme))
	switch scheme {
	case "", "hmac-sha256", "hmac-sha1", "hook-secret", "token", "challenge":
	default:
		return fmt.Errorf("webhook.scheme %q is not supported", c.Webhook.Scheme)
	}
	return nil
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type staticRawConfigLoader struct{}

func (staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// GoOptionsResolver merges defaults, loaded file config, and runtime
// overrides with deterministic layer precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || len(cfg.Providers) > 0 {
		providers := map[string]any{}
		for name, provider := range cfg.Providers {
			providers[name] = providerToLayerMap(provider)
		}
		layer["providers"] = providers
	}
	return layer
}

func providerToLayerMap(cfg ProviderConfig) map[string]any {
	return map[string]any{
		"rate_limit": map[string]any{
			"max_requests": cfg.RateLimit.MaxRequests,
			"window_ms":    cfg.RateLimit.WindowMS,
			"burst":        cfg.RateLimit.Burst,
			"queue_size":   cfg.RateLimit.QueueSize,
			"enable_queue": cfg.RateLimit.EnableQueue,
		},
		"complexity": map[string]any{
			"limit":     cfg.Complexity.Limit,
			"window_ms": cfg.Complexity.WindowMS,
		},
		"webhook": map[string]any{
			"scheme":       cfg.Webhook.Scheme,
			"secret":       cfg.Webhook.Secret,
			"token":        cfg.Webhook.Token,
			"callback_url": cfg.Webhook.CallbackURL,
		},
	}
}

var (
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
)
