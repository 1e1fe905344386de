package mapping

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/worksync/go-trackers/core"
)

// Direction scopes a rule to one mapping direction. Empty means
// bidirectional.
type Direction string

const (
	DirectionInbound       Direction = "inbound"
	DirectionOutbound      Direction = "outbound"
	DirectionBidirectional Direction = "bidirectional"
)

// Rule maps one provider field to one universal field. SourceField is
// the provider-side path, TargetField the universal-side path; both
// accept dotted segments and bracketed numeric indices.
type Rule struct {
	SourceField  string    `json:"sourceField" koanf:"source_field"`
	TargetField  string    `json:"targetField" koanf:"target_field"`
	Transform    string    `json:"transform,omitempty" koanf:"transform"`
	DefaultValue any       `json:"defaultValue,omitempty" koanf:"default_value"`
	Required     bool      `json:"required,omitempty" koanf:"required"`
	Direction    Direction `json:"direction,omitempty" koanf:"direction"`
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.SourceField) == "" {
		return core.ConfigError("mapping rule requires a source field", nil)
	}
	if strings.TrimSpace(r.TargetField) == "" {
		return core.ConfigError(fmt.Sprintf("mapping rule for %q requires a target field", r.SourceField), map[string]any{"source_field": r.SourceField})
	}
	switch r.Direction {
	case "", DirectionInbound, DirectionOutbound, DirectionBidirectional:
	default:
		return core.ConfigError(fmt.Sprintf("mapping rule for %q has unknown direction %q", r.SourceField, r.Direction), map[string]any{
			"source_field": r.SourceField,
			"direction":    string(r.Direction),
		})
	}
	return nil
}

func (r Rule) appliesInbound() bool {
	return r.Direction == "" || r.Direction == DirectionInbound || r.Direction == DirectionBidirectional
}

func (r Rule) appliesOutbound() bool {
	return r.Direction == "" || r.Direction == DirectionOutbound || r.Direction == DirectionBidirectional
}

// Mapper is the schema normalization engine. Zero value is not usable;
// construct with NewMapper. Safe for concurrent use once built.
type Mapper struct {
	registry   *Registry
	statuses   map[string]core.StatusCategory
	priorities map[string]int
	logger     core.Logger
}

type Option func(*Mapper)

// WithStatusTable replaces the default provider-label to category
// table. Keys are matched case-insensitively.
func WithStatusTable(table map[string]core.StatusCategory) Option {
	return func(m *Mapper) {
		if len(table) == 0 {
			return
		}
		m.statuses = map[string]core.StatusCategory{}
		for label, category := range table {
			m.statuses[strings.ToLower(strings.TrimSpace(label))] = category
		}
	}
}

// WithPriorityTable replaces the default priority-label to level table.
func WithPriorityTable(table map[string]int) Option {
	return func(m *Mapper) {
		if len(table) == 0 {
			return
		}
		m.priorities = map[string]int{}
		for label, level := range table {
			m.priorities[strings.ToLower(strings.TrimSpace(label))] = core.ClampPriority(level)
		}
	}
}

func WithRegistry(registry *Registry) Option {
	return func(m *Mapper) {
		if registry != nil {
			m.registry = registry
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMapper(options ...Option) *Mapper {
	m := &Mapper{
		registry:   NewRegistry(),
		statuses:   defaultStatusTable(),
		priorities: defaultPriorityTable(),
		logger:     glog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Registry exposes the custom transform registry so callers can add
// provider-specific transforms after construction.
func (m *Mapper) Registry() *Registry {
	return m.registry
}

// ValidateRules checks every rule and resolves every transform name,
// so a bad ruleset fails at registration rather than mid-payload.
func (m *Mapper) ValidateRules(rules []Rule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if rule.Transform == "" || isBuiltinKind(rule.Transform) {
			continue
		}
		if _, ok := m.registry.lookup(rule.Transform); !ok {
			return core.ConfigError(fmt.Sprintf("unknown transform %q", rule.Transform), map[string]any{
				"transform":    rule.Transform,
				"source_field": rule.SourceField,
			})
		}
	}
	return nil
}

// ToUniversal maps a provider record into partial universal-schema
// shape. Only fields named by inbound-applicable rules are written; the
// provider identity is always present.
func (m *Mapper) ToUniversal(record map[string]any, provider string, rules []Rule, ctx *core.TransformContext) (map[string]any, error) {
	if m == nil {
		return nil, core.InternalError("mapper is nil", nil)
	}
	out := map[string]any{"provider": provider}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if !rule.appliesInbound() {
			continue
		}
		value, err := m.resolveValue(record, rule.SourceField, rule)
		if err != nil {
			return nil, err
		}
		if value == nil && rule.DefaultValue == nil {
			continue
		}
		transformed, err := m.apply(rule.Transform, value, ctx, true)
		if err != nil {
			return nil, err
		}
		if err := SetPath(out, rule.TargetField, transformed); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromUniversal maps a universal record back into provider payload
// shape, running each rule's inverse transform.
func (m *Mapper) FromUniversal(record map[string]any, provider string, rules []Rule, ctx *core.TransformContext) (map[string]any, error) {
	if m == nil {
		return nil, core.InternalError("mapper is nil", nil)
	}
	out := map[string]any{}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if !rule.appliesOutbound() {
			continue
		}
		value, err := m.resolveValue(record, rule.TargetField, rule)
		if err != nil {
			return nil, err
		}
		if value == nil && rule.DefaultValue == nil {
			continue
		}
		transformed, err := m.apply(rule.Transform, value, ctx, false)
		if err != nil {
			return nil, err
		}
		if err := SetPath(out, rule.SourceField, transformed); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resolveValue reads the rule's value from record, falling back to the
// default. A required field that resolves to nothing is a
// configuration error.
func (m *Mapper) resolveValue(record map[string]any, path string, rule Rule) (any, error) {
	value, ok := GetPath(record, path)
	if !ok || value == nil {
		if rule.DefaultValue != nil {
			return rule.DefaultValue, nil
		}
		if rule.Required {
			return nil, core.NewError(
				fmt.Sprintf("required field %q is missing", path),
				goerrors.CategoryValidation,
				http.StatusInternalServerError,
				core.ErrorFieldMissing,
				map[string]any{"field": path},
			)
		}
		return nil, nil
	}
	return value, nil
}
