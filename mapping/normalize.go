package mapping

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/worksync/go-trackers/core"
)

// defaultStatusTable covers the labels the common trackers ship out of
// the box. Providers override by label through WithStatusTable or
// per-call via TransformContext.Statuses.
func defaultStatusTable() map[string]core.StatusCategory {
	return map[string]core.StatusCategory{
		"backlog":     core.StatusBacklog,
		"icebox":      core.StatusBacklog,
		"triage":      core.StatusBacklog,
		"todo":        core.StatusTodo,
		"to do":       core.StatusTodo,
		"to-do":       core.StatusTodo,
		"open":        core.StatusTodo,
		"new":         core.StatusTodo,
		"unstarted":   core.StatusTodo,
		"in progress": core.StatusInProgress,
		"in_progress": core.StatusInProgress,
		"doing":       core.StatusInProgress,
		"started":     core.StatusInProgress,
		"active":      core.StatusInProgress,
		"in review":   core.StatusReview,
		"review":      core.StatusReview,
		"qa":          core.StatusReview,
		"testing":     core.StatusReview,
		"done":        core.StatusDone,
		"closed":      core.StatusDone,
		"complete":    core.StatusDone,
		"completed":   core.StatusDone,
		"resolved":    core.StatusDone,
		"cancelled":   core.StatusCancelled,
		"canceled":    core.StatusCancelled,
		"won't do":    core.StatusCancelled,
		"wont do":     core.StatusCancelled,
		"declined":    core.StatusCancelled,
		"duplicate":   core.StatusCancelled,
	}
}

func defaultPriorityTable() map[string]int {
	return map[string]int{
		"none":        core.PriorityNone,
		"no priority": core.PriorityNone,
		"trivial":     core.PriorityNone,
		"low":         core.PriorityLow,
		"lowest":      core.PriorityLow,
		"minor":       core.PriorityLow,
		"medium":      core.PriorityMedium,
		"normal":      core.PriorityMedium,
		"default":     core.PriorityMedium,
		"high":        core.PriorityHigh,
		"major":       core.PriorityHigh,
		"important":   core.PriorityHigh,
		"urgent":      core.PriorityUrgent,
		"critical":    core.PriorityUrgent,
		"blocker":     core.PriorityUrgent,
		"highest":     core.PriorityUrgent,
	}
}

// MapStatus normalizes a provider status label. Lookup is
// case-insensitive; unmapped labels land in todo with the raw value
// preserved so nothing is lost on the way back out.
func (m *Mapper) MapStatus(raw string) core.Status {
	return m.mapStatusLabel(raw, nil)
}

func (m *Mapper) mapStatusLabel(raw string, overlay map[string]string) core.Status {
	label := strings.TrimSpace(raw)
	key := strings.ToLower(label)

	if overlay != nil {
		if mapped, ok := lookupFold(overlay, key); ok {
			category := core.StatusCategory(strings.ToLower(strings.TrimSpace(mapped)))
			if category.Valid() {
				return core.Status{Category: category, Name: label, Raw: raw}
			}
		}
	}
	if category, ok := m.statuses[key]; ok {
		return core.Status{Category: category, Name: label, Raw: raw}
	}

	m.logger.Debug("unmapped status label, defaulting to todo", "status", raw)
	return core.Status{Category: core.StatusTodo, Name: label, Raw: raw}
}

// mapStatusWithContext accepts whatever shape the provider payload
// carried: a bare label, or an object with a name/status field.
func (m *Mapper) mapStatusWithContext(value any, ctx *core.TransformContext) core.Status {
	var overlay map[string]string
	if ctx != nil {
		overlay = ctx.Statuses
	}
	switch v := value.(type) {
	case string:
		return m.mapStatusLabel(v, overlay)
	case map[string]any:
		for _, field := range []string{"name", "status", "state", "value"} {
			if label, ok := v[field].(string); ok {
				return m.mapStatusLabel(label, overlay)
			}
		}
	}
	return m.mapStatusLabel(fmt.Sprintf("%v", value), overlay)
}

// MapPriority normalizes a provider priority. Known labels resolve
// through the table; numeric values clamp onto the 0 to 4 ladder;
// anything else is none.
func (m *Mapper) MapPriority(raw any) core.Priority {
	switch v := raw.(type) {
	case string:
		key := strings.ToLower(strings.TrimSpace(v))
		if level, ok := m.priorities[key]; ok {
			return core.Priority{Level: level, Name: core.PriorityName(level), Raw: v}
		}
		if n, err := strconv.Atoi(key); err == nil {
			level := core.ClampPriority(n)
			return core.Priority{Level: level, Name: core.PriorityName(level), Raw: v}
		}
		m.logger.Debug("unmapped priority label, defaulting to none", "priority", v)
		return core.Priority{Level: core.PriorityNone, Name: core.PriorityName(core.PriorityNone), Raw: v}
	case int:
		level := core.ClampPriority(v)
		return core.Priority{Level: level, Name: core.PriorityName(level), Raw: strconv.Itoa(v)}
	case int64:
		level := core.ClampPriority(int(v))
		return core.Priority{Level: level, Name: core.PriorityName(level), Raw: strconv.FormatInt(v, 10)}
	case float64:
		level := core.ClampPriority(int(v))
		return core.Priority{Level: level, Name: core.PriorityName(level), Raw: strconv.FormatFloat(v, 'f', -1, 64)}
	case nil:
		return core.Priority{Level: core.PriorityNone, Name: core.PriorityName(core.PriorityNone)}
	}
	return core.Priority{Level: core.PriorityNone, Name: core.PriorityName(core.PriorityNone), Raw: fmt.Sprintf("%v", raw)}
}

// MapUser resolves a provider user reference against the workspace
// member roster, matching by external id, then email, then display
// name. An unresolved reference still yields a User carrying whatever
// the payload had.
func (m *Mapper) MapUser(raw any, members []core.User) core.User {
	candidate := userFromValue(raw)

	for _, member := range members {
		if candidate.ExternalID != "" && candidate.ExternalID == member.ExternalID {
			return member
		}
	}
	for _, member := range members {
		if candidate.Email != "" && strings.EqualFold(candidate.Email, member.Email) {
			return member
		}
	}
	for _, member := range members {
		if candidate.Name != "" && strings.EqualFold(candidate.Name, member.Name) {
			return member
		}
	}
	return candidate
}

func (m *Mapper) MapUsers(raw any, members []core.User) []core.User {
	items, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil
		}
		return []core.User{m.MapUser(raw, members)}
	}
	users := make([]core.User, 0, len(items))
	for _, item := range items {
		users = append(users, m.MapUser(item, members))
	}
	return users
}

func userFromValue(raw any) core.User {
	switch v := raw.(type) {
	case string:
		if strings.Contains(v, "@") {
			return core.User{Email: v}
		}
		return core.User{ExternalID: v}
	case map[string]any:
		user := core.User{}
		for _, field := range []string{"id", "externalId", "external_id", "accountId", "gid", "user_id"} {
			if s := stringField(v, field); s != "" {
				user.ExternalID = s
				break
			}
		}
		user.Email = stringField(v, "email")
		for _, field := range []string{"name", "displayName", "display_name", "fullName", "username", "login"} {
			if s := stringField(v, field); s != "" {
				user.Name = s
				break
			}
		}
		user.AvatarURL = stringField(v, "avatarUrl")
		return user
	}
	return core.User{}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

// MapLabels flattens provider label shapes to a plain string slice.
// Accepts a string list, an object list with name fields, or a single
// comma-separated string.
func (m *Mapper) MapLabels(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		labels := make([]string, 0, len(v))
		for _, item := range v {
			switch label := item.(type) {
			case string:
				labels = append(labels, label)
			case map[string]any:
				if name := stringField(label, "name"); name != "" {
					labels = append(labels, name)
				}
			}
		}
		return labels
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		labels := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				labels = append(labels, trimmed)
			}
		}
		return labels
	}
	return nil
}

// statusToProvider reverses a universal status to a provider label.
// The raw label wins when the record kept one; otherwise the overlay or
// default table supplies the first label for the category.
func (m *Mapper) statusToProvider(value any, ctx *core.TransformContext) any {
	status := statusFromValue(value)
	if status.Raw != "" {
		return status.Raw
	}
	if status.Name != "" {
		return status.Name
	}
	if ctx != nil {
		for label, category := range ctx.Statuses {
			if strings.EqualFold(category, string(status.Category)) {
				return label
			}
		}
	}
	return string(status.Category)
}

func statusFromValue(value any) core.Status {
	switch v := value.(type) {
	case core.Status:
		return v
	case string:
		return core.Status{Category: core.StatusCategory(strings.ToLower(v)), Raw: v}
	case map[string]any:
		return core.Status{
			Category: core.StatusCategory(stringField(v, "category")),
			Name:     stringField(v, "name"),
			Raw:      stringField(v, "raw"),
		}
	}
	return core.Status{}
}

func priorityToProvider(value any) any {
	switch v := value.(type) {
	case core.Priority:
		if v.Raw != "" {
			return v.Raw
		}
		return v.Level
	case map[string]any:
		if raw := stringField(v, "raw"); raw != "" {
			return raw
		}
		if level, ok := v["level"].(float64); ok {
			return int(level)
		}
	case float64:
		return int(v)
	case int:
		return v
	}
	return value
}

func userToProvider(value any) any {
	switch v := value.(type) {
	case core.User:
		return v.ExternalID
	case map[string]any:
		if id := stringField(v, "externalId"); id != "" {
			return id
		}
		if id := stringField(v, "id"); id != "" {
			return id
		}
	case string:
		return v
	}
	return nil
}

func usersToProvider(value any) any {
	items, ok := value.([]any)
	if !ok {
		if single := userToProvider(value); single != nil {
			return []any{single}
		}
		return []any{}
	}
	ids := make([]any, 0, len(items))
	for _, item := range items {
		if id := userToProvider(item); id != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func lookupFold(table map[string]string, key string) (string, bool) {
	if v, ok := table[key]; ok {
		return v, true
	}
	for k, v := range table {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return "", false
}
