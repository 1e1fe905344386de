package mapping

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	goerrors "github.com/goliatone/go-errors"
	"github.com/yuin/goldmark"

	"github.com/worksync/go-trackers/core"
)

// Kind names a built-in value transform. The set is closed; anything
// else resolves through the custom Registry or fails as a
// configuration error.
type Kind string

const (
	KindDirect         Kind = "direct"
	KindDate           Kind = "date"
	KindUnixMS         Kind = "unix_ms"
	KindUnixS          Kind = "unix_s"
	KindStatus         Kind = "status"
	KindPriority       Kind = "priority"
	KindUser           Kind = "user"
	KindUsers          Kind = "users"
	KindLabels         Kind = "labels"
	KindMarkdownToHTML Kind = "markdown_to_html"
	KindHTMLToMarkdown Kind = "html_to_markdown"
)

// TransformFunc converts a single field value. The context carries the
// provider pair, status overlays, and the member roster for user
// resolution.
type TransformFunc func(value any, ctx *core.TransformContext) (any, error)

type customTransform struct {
	forward TransformFunc
	inverse TransformFunc
}

// Registry holds custom transforms registered by name. Built-in kinds
// cannot be shadowed. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]customTransform
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]customTransform{}}
}

// Register adds a custom transform. When no inverse is registered via
// RegisterBidirectional, the forward function is applied in both
// directions.
func (r *Registry) Register(name string, fn TransformFunc) error {
	return r.RegisterBidirectional(name, fn, fn)
}

func (r *Registry) RegisterBidirectional(name string, forward, inverse TransformFunc) error {
	if r == nil {
		return core.InternalError("transform registry is nil", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" || forward == nil {
		return core.BadInputError("transform registration requires a name and a function", nil)
	}
	if isBuiltinKind(name) {
		return core.ConfigError(fmt.Sprintf("transform %q shadows a built-in kind", name), map[string]any{"transform": name})
	}
	if inverse == nil {
		inverse = forward
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = customTransform{forward: forward, inverse: inverse}
	return nil
}

func (r *Registry) lookup(name string) (customTransform, bool) {
	if r == nil {
		return customTransform{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

func isBuiltinKind(name string) bool {
	switch Kind(name) {
	case KindDirect, KindDate, KindUnixMS, KindUnixS, KindStatus, KindPriority,
		KindUser, KindUsers, KindLabels, KindMarkdownToHTML, KindHTMLToMarkdown:
		return true
	}
	return false
}

// apply runs the named transform in the given direction. An unknown
// name is a hard configuration error.
func (m *Mapper) apply(name string, value any, ctx *core.TransformContext, toUniversal bool) (any, error) {
	if name == "" {
		name = string(KindDirect)
	}

	switch Kind(name) {
	case KindDirect:
		return value, nil
	case KindDate:
		return transformDate(value)
	case KindUnixMS:
		if toUniversal {
			return epochToRFC3339(value, time.Millisecond)
		}
		return rfc3339ToEpoch(value, time.Millisecond)
	case KindUnixS:
		if toUniversal {
			return epochToRFC3339(value, time.Second)
		}
		return rfc3339ToEpoch(value, time.Second)
	case KindStatus:
		if toUniversal {
			return core.EncodeRecord(m.mapStatusWithContext(value, ctx))
		}
		return m.statusToProvider(value, ctx), nil
	case KindPriority:
		if toUniversal {
			return core.EncodeRecord(m.MapPriority(value))
		}
		return priorityToProvider(value), nil
	case KindUser:
		if toUniversal {
			return core.EncodeRecord(m.MapUser(value, contextMembers(ctx)))
		}
		return userToProvider(value), nil
	case KindUsers:
		if toUniversal {
			users := m.MapUsers(value, contextMembers(ctx))
			encoded := make([]any, 0, len(users))
			for _, u := range users {
				rec, err := core.EncodeRecord(u)
				if err != nil {
					return nil, err
				}
				encoded = append(encoded, rec)
			}
			return encoded, nil
		}
		return usersToProvider(value), nil
	case KindLabels:
		return m.MapLabels(value), nil
	case KindMarkdownToHTML:
		if toUniversal {
			return markdownToHTML(value)
		}
		return htmlToMarkdown(value)
	case KindHTMLToMarkdown:
		if toUniversal {
			return htmlToMarkdown(value)
		}
		return markdownToHTML(value)
	}

	entry, ok := m.registry.lookup(name)
	if !ok {
		return nil, core.ConfigError(fmt.Sprintf("unknown transform %q", name), map[string]any{"transform": name})
	}
	fn := entry.forward
	if !toUniversal {
		fn = entry.inverse
	}
	return fn(value, ctx)
}

// transformDate normalizes any recognized timestamp representation to
// an RFC 3339 UTC string.
func transformDate(value any) (any, error) {
	t, err := coerceTime(value)
	if err != nil {
		return nil, err
	}
	return t.UTC().Format(time.RFC3339), nil
}

func epochToRFC3339(value any, unit time.Duration) (any, error) {
	n, err := coerceInt64(value)
	if err != nil {
		return nil, err
	}
	var t time.Time
	switch unit {
	case time.Millisecond:
		t = time.UnixMilli(n)
	default:
		t = time.Unix(n, 0)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func rfc3339ToEpoch(value any, unit time.Duration) (any, error) {
	t, err := coerceTime(value)
	if err != nil {
		return nil, err
	}
	if unit == time.Millisecond {
		return t.UnixMilli(), nil
	}
	return t.Unix(), nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return epochGuess(n), nil
		}
		return time.Time{}, core.BadInputError(fmt.Sprintf("unparsable timestamp %q", v), nil)
	case float64:
		return epochGuess(int64(v)), nil
	case int64:
		return epochGuess(v), nil
	case int:
		return epochGuess(int64(v)), nil
	}
	return time.Time{}, core.BadInputError(fmt.Sprintf("unsupported timestamp type %T", value), nil)
}

// epochGuess treats values past the year ~2286 second boundary as
// milliseconds.
func epochGuess(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func coerceInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, core.BadInputError(fmt.Sprintf("unparsable epoch %q", v), nil)
		}
		return n, nil
	}
	return 0, core.BadInputError(fmt.Sprintf("unsupported epoch type %T", value), nil)
}

func markdownToHTML(value any) (any, error) {
	src, ok := value.(string)
	if !ok {
		return nil, core.BadInputError(fmt.Sprintf("markdown transform expects a string, got %T", value), nil)
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryInternal, "markdown conversion failed", http.StatusInternalServerError, core.ErrorInternal, nil)
	}
	return strings.TrimSpace(buf.String()), nil
}

var (
	htmlConverterOnce sync.Once
	htmlConverter     *md.Converter
)

func htmlToMarkdown(value any) (any, error) {
	src, ok := value.(string)
	if !ok {
		return nil, core.BadInputError(fmt.Sprintf("html transform expects a string, got %T", value), nil)
	}
	htmlConverterOnce.Do(func() {
		htmlConverter = md.NewConverter("", true, nil)
	})
	out, err := htmlConverter.ConvertString(src)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryInternal, "html conversion failed", http.StatusInternalServerError, core.ErrorInternal, nil)
	}
	return strings.TrimSpace(out), nil
}

func contextMembers(ctx *core.TransformContext) []core.User {
	if ctx == nil {
		return nil
	}
	return ctx.Members
}
