package core

import (
	"context"
	"testing"
)

func TestConfigValidateRejectsBadScheme(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"linear": {Webhook: WebhookConfig{Scheme: "rot13"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unsupported webhook scheme")
	}
}

func TestConfigValidateRejectsNegativeLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"jira": {RateLimit: RateLimitConfig{MaxRequests: -1}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative max_requests")
	}
}

type mapRawLoader struct {
	raw map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.raw, nil
}

func TestCfgxConfigProviderAppliesDefaults(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{raw: map[string]any{
		"providers": map[string]any{
			"linear": map[string]any{
				"rate_limit": map[string]any{
					"max_requests": 50,
					"window_ms":    1000,
				},
			},
		},
	}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "trackers" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	linear, ok := cfg.Providers["linear"]
	if !ok {
		t.Fatalf("expected linear provider config")
	}
	if linear.RateLimit.MaxRequests != 50 || linear.RateLimit.WindowMS != 1000 {
		t.Fatalf("expected loaded rate limit values, got %+v", linear.RateLimit)
	}
}

func TestGoOptionsResolverRuntimeWins(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{
		ServiceName: "trackers-file",
		Providers: map[string]ProviderConfig{
			"asana": {RateLimit: RateLimitConfig{MaxRequests: 150, WindowMS: 60000}},
		},
	}
	runtime := Config{ServiceName: "trackers-runtime"}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if resolved.ServiceName != "trackers-runtime" {
		t.Fatalf("expected runtime layer to win, got %q", resolved.ServiceName)
	}
	if resolved.Providers["asana"].RateLimit.MaxRequests != 150 {
		t.Fatalf("expected file layer provider to survive, got %+v", resolved.Providers)
	}
}
