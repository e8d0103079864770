package todo

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Status represents the workflow state of a todo.
type Status string

const (
	// StatusPending is the initial status of every new todo.
	StatusPending Status = "PENDING"

	// StatusInProgress marks a todo that is being worked on.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompleted marks a finished todo. Transitioning to it sets CompletedAt.
	StatusCompleted Status = "COMPLETED"

	// StatusArchived marks a todo kept only for history.
	StatusArchived Status = "ARCHIVED"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusArchived}
}

// IsValid returns true if the status is a known valid value.
func (s Status) IsValid() bool {
	return slices.Contains(ValidStatuses(), s)
}

// IsClosed reports whether the status no longer counts towards overdue work.
func (s Status) IsClosed() bool {
	return s == StatusCompleted || s == StatusArchived
}

// Priority represents how urgent a todo is.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ValidPriorities returns all valid priority values.
func ValidPriorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

// IsValid returns true if the priority is a known valid value.
func (p Priority) IsValid() bool {
	return slices.Contains(ValidPriorities(), p)
}

// Todo is the only entity managed by the service.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	IsDeleted   bool       `json:"isDeleted"`
	Version     int        `json:"version"`
}

// Clone returns a deep copy so cached values never share slices or pointers
// with records handed to callers.
func (t Todo) Clone() Todo {
	out := t
	out.Tags = slices.Clone(t.Tags)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	out.DueDate = cloneTime(t.DueDate)
	out.CompletedAt = cloneTime(t.CompletedAt)
	return out
}

// NewTodo is the input accepted by the create operation. The store assigns
// the identifier, the timestamps and the version.
type NewTodo struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	CreatedBy   string     `json:"createdBy"`
}

// Normalize applies defaults and canonicalizes tags.
func (n NewTodo) Normalize() NewTodo {
	n.Title = strings.TrimSpace(n.Title)
	n.CreatedBy = strings.TrimSpace(n.CreatedBy)
	if n.Status == "" {
		n.Status = StatusPending
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	n.Tags = NormalizeTags(n.Tags)
	n.DueDate = utcTime(n.DueDate)
	return n
}

// Todo converts the input into an unsaved record.
func (n NewTodo) Todo() Todo {
	n = n.Normalize()
	return Todo{
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
		DueDate:     n.DueDate,
		Tags:        n.Tags,
		AssignedTo:  n.AssignedTo,
		CreatedBy:   n.CreatedBy,
		Version:     1,
	}
}

// NormalizeTags trims, de-duplicates and sorts tags. Tags are a set, so two
// inputs with the same members always normalize to the same slice.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
