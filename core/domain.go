package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type StatusCategory string

const (
	StatusBacklog    StatusCategory = "backlog"
	StatusTodo       StatusCategory = "todo"
	StatusInProgress StatusCategory = "in_progress"
	StatusReview     StatusCategory = "review"
	StatusDone       StatusCategory = "done"
	StatusCancelled  StatusCategory = "cancelled"
)

func (c StatusCategory) Valid() bool {
	switch c {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusCancelled:
		return true
	default:
		return false
	}
}

// Status pairs the normalized category with the provider's original label so
// outbound mapping can restore the exact provider value.
type Status struct {
	Category StatusCategory `json:"category"`
	Name     string         `json:"name,omitempty"`
	Raw      string         `json:"raw,omitempty"`
}

// Priority levels run 0 (none) through 4 (urgent).
type Priority struct {
	Level int    `json:"level"`
	Name  string `json:"name,omitempty"`
	Raw   string `json:"raw,omitempty"`
}

const (
	PriorityNone   = 0
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

var priorityNames = [...]string{"None", "Low", "Medium", "High", "Urgent"}

// PriorityName returns the ladder name for level, clamping out-of-range input.
func PriorityName(level int) string {
	return priorityNames[ClampPriority(level)]
}

func ClampPriority(level int) int {
	if level < PriorityNone {
		return PriorityNone
	}
	if level > PriorityUrgent {
		return PriorityUrgent
	}
	return level
}

type User struct {
	ID         string         `json:"id,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Email      string         `json:"email,omitempty"`
	Name       string         `json:"name,omitempty"`
	AvatarURL  string         `json:"avatarUrl,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Task struct {
	ID           string         `json:"id,omitempty"`
	ExternalID   string         `json:"externalId"`
	Provider     string         `json:"provider"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`
	Assignee     *User          `json:"assignee,omitempty"`
	Labels       []string       `json:"labels,omitempty"`
	ProjectID    string         `json:"projectId,omitempty"`
	ParentID     string         `json:"parentId,omitempty"`
	DueAt        *time.Time     `json:"dueAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt,omitzero"`
	UpdatedAt    time.Time      `json:"updatedAt,omitzero"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

type Project struct {
	ID         string         `json:"id,omitempty"`
	ExternalID string         `json:"externalId"`
	Provider   string         `json:"provider"`
	Name       string         `json:"name,omitempty"`
	Key        string         `json:"key,omitempty"`
	URL        string         `json:"url,omitempty"`
	Archived   bool           `json:"archived,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Comment struct {
	ID         string         `json:"id,omitempty"`
	ExternalID string         `json:"externalId"`
	Provider   string         `json:"provider"`
	TaskID     string         `json:"taskId,omitempty"`
	Author     *User          `json:"author,omitempty"`
	Body       string         `json:"body,omitempty"`
	CreatedAt  time.Time      `json:"createdAt,omitzero"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ExternalID) == "" {
		return fmt.Errorf("core: task external id is required")
	}
	if strings.TrimSpace(t.Provider) == "" {
		return fmt.Errorf("core: task provider is required")
	}
	if t.Status.Category != "" && !t.Status.Category.Valid() {
		return fmt.Errorf("core: unknown status category %q", t.Status.Category)
	}
	if t.Priority.Level < PriorityNone || t.Priority.Level > PriorityUrgent {
		return fmt.Errorf("core: priority level %d out of range", t.Priority.Level)
	}
	return nil
}

// DecodeTask converts a mapped universal record into a typed Task.
func DecodeTask(record map[string]any) (Task, error) {
	var task Task
	if err := decodeRecord(record, &task); err != nil {
		return Task{}, fmt.Errorf("core: decode task: %w", err)
	}
	return task, nil
}

func DecodeProject(record map[string]any) (Project, error) {
	var project Project
	if err := decodeRecord(record, &project); err != nil {
		return Project{}, fmt.Errorf("core: decode project: %w", err)
	}
	return project, nil
}

func DecodeUser(record map[string]any) (User, error) {
	var user User
	if err := decodeRecord(record, &user); err != nil {
		return User{}, fmt.Errorf("core: decode user: %w", err)
	}
	return user, nil
}

// EncodeRecord converts a typed record back into the open map shape the
// mapping engine operates on.
func EncodeRecord(value any) (map[string]any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("core: encode record: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("core: encode record: %w", err)
	}
	return out, nil
}

func decodeRecord(record map[string]any, target any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, target)
}
