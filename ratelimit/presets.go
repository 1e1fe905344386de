package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/worksync/go-trackers/core"
)

type Preset struct {
	MaxRequests int
	Window      time.Duration
	Burst       int
	EnableQueue bool
	QueueSize   int
}

// PresetTable maps provider names to published rate-limit envelopes. Tables
// are plain values passed at construction so limiters with different presets
// can coexist in one process.
type PresetTable map[string]Preset

func (t PresetTable) For(provider string) (Preset, error) {
	normalized := strings.TrimSpace(strings.ToLower(provider))
	if normalized == "" {
		return Preset{}, core.BadInputError("ratelimit: provider is required", nil)
	}
	preset, ok := t[normalized]
	if !ok {
		return Preset{}, core.NewError(
			fmt.Sprintf("ratelimit: no preset registered for provider %q", provider),
			goerrors.CategoryValidation,
			http.StatusInternalServerError,
			core.ErrorProviderUnknown,
			map[string]any{"provider": normalized},
		)
	}
	return preset, nil
}

// NewLimiterFor builds a limiter from the table entry for provider.
func (t PresetTable) NewLimiterFor(provider string) (*Limiter, error) {
	preset, err := t.For(provider)
	if err != nil {
		return nil, err
	}
	return NewLimiter(Config{
		Provider:    provider,
		MaxRequests: preset.MaxRequests,
		Window:      preset.Window,
		Burst:       preset.Burst,
		EnableQueue: preset.EnableQueue,
		QueueSize:   preset.QueueSize,
	})
}

// DefaultPresets returns the published request envelopes for the trackers
// this module targets. Callers copy and adjust rather than mutate in place.
func DefaultPresets() PresetTable {
	return PresetTable{
		"linear":     {MaxRequests: 1500, Window: time.Hour, Burst: 50, EnableQueue: true, QueueSize: 100},
		"jira":       {MaxRequests: 10, Window: time.Second, Burst: 10, EnableQueue: true, QueueSize: 100},
		"asana":      {MaxRequests: 150, Window: time.Minute, Burst: 50, EnableQueue: true, QueueSize: 100},
		"trello":     {MaxRequests: 100, Window: 10 * time.Second, Burst: 100, EnableQueue: true, QueueSize: 100},
		"clickup":    {MaxRequests: 100, Window: time.Minute, Burst: 100, EnableQueue: true, QueueSize: 100},
		"monday":     {MaxRequests: 200, Window: time.Minute, Burst: 60, EnableQueue: true, QueueSize: 100},
		"github":     {MaxRequests: 5000, Window: time.Hour, Burst: 100, EnableQueue: true, QueueSize: 100},
		"slack":      {MaxRequests: 50, Window: time.Minute, Burst: 20, EnableQueue: true, QueueSize: 100},
		"hubspot":    {MaxRequests: 100, Window: 10 * time.Second, Burst: 100, EnableQueue: true, QueueSize: 100},
		"salesforce": {MaxRequests: 100, Window: time.Minute, Burst: 25, EnableQueue: true, QueueSize: 100},
	}
}
