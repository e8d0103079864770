package todo

import (
	"time"
)

// Patch is a version-checked partial update. Nil fields are left untouched.
type Patch struct {
	Version     int        `json:"version"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        *[]string  `json:"tags,omitempty"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
}

// IsEmpty reports whether the patch changes no field.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && p.Tags == nil && p.AssignedTo == nil
}

// Normalize canonicalizes tags, trims the title and moves the due date to UTC.
func (p Patch) Normalize() Patch {
	if p.Title != nil {
		title := trimmed(*p.Title)
		p.Title = &title
	}
	if p.Tags != nil {
		tags := NormalizeTags(*p.Tags)
		p.Tags = &tags
	}
	p.DueDate = utcTime(p.DueDate)
	return p
}

// Apply returns a copy of t with the patch applied the same way the stores
// apply it: version bumped, UpdatedAt set and CompletedAt stamped on the
// transition into COMPLETED. It does not check the version.
func (p Patch) Apply(t Todo, now time.Time) Todo {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.DueDate != nil {
		out.DueDate = cloneTime(p.DueDate)
	}
	if p.Tags != nil {
		out.Tags = NormalizeTags(*p.Tags)
	}
	if p.AssignedTo != nil {
		out.AssignedTo = *p.AssignedTo
	}
	if p.Status != nil {
		out.CompletedAt = completedAt(t, *p.Status, now)
		out.Status = *p.Status
	}
	out.Version = t.Version + 1
	out.UpdatedAt = now
	return out
}

// BulkPatch is applied to many records at once without a version check.
type BulkPatch struct {
	Status     *Status    `json:"status,omitempty"`
	Priority   *Priority  `json:"priority,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	Tags       *[]string  `json:"tags,omitempty"`
	AssignedTo *string    `json:"assignedTo,omitempty"`
}

// IsEmpty reports whether the bulk patch changes no field.
func (p BulkPatch) IsEmpty() bool {
	return p.Status == nil && p.Priority == nil && p.DueDate == nil && p.Tags == nil && p.AssignedTo == nil
}

// Normalize canonicalizes tags and moves the due date to UTC.
func (p BulkPatch) Normalize() BulkPatch {
	if p.Tags != nil {
		tags := NormalizeTags(*p.Tags)
		p.Tags = &tags
	}
	p.DueDate = utcTime(p.DueDate)
	return p
}

// Patch converts the bulk patch into a regular patch for the given version.
func (p BulkPatch) Patch(version int) Patch {
	return Patch{
		Version:    version,
		Status:     p.Status,
		Priority:   p.Priority,
		DueDate:    p.DueDate,
		Tags:       p.Tags,
		AssignedTo: p.AssignedTo,
	}
}

func completedAt(before Todo, next Status, now time.Time) *time.Time {
	if next == StatusCompleted && before.Status != StatusCompleted {
		ts := now
		return &ts
	}
	return cloneTime(before.CompletedAt)
}
