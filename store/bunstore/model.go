package bunstore

import (
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// todoRecord is the row layout of the todos table. DeletedAt is bun's soft
// delete column, so selects and updates skip deleted rows unless a query
// asks for them.
type todoRecord struct {
	bun.BaseModel `bun:"table:todos,alias:t"`

	ID          string     `bun:"id,pk"`
	Title       string     `bun:"title,notnull"`
	Description string     `bun:"description,notnull"`
	Status      string     `bun:"status,notnull"`
	Priority    string     `bun:"priority,notnull"`
	DueDate     *time.Time `bun:"due_date"`
	Tags        string     `bun:"tags,notnull"`
	AssignedTo  string     `bun:"assigned_to,notnull"`
	CreatedBy   string     `bun:"created_by,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
	CompletedAt *time.Time `bun:"completed_at"`
	DeletedAt   time.Time  `bun:"deleted_at,soft_delete,nullzero"`
	Version     int        `bun:"version,notnull"`
}

func recordHandlers() repository.ModelHandlers[*todoRecord] {
	return repository.ModelHandlers[*todoRecord]{
		NewRecord: func() *todoRecord {
			return &todoRecord{}
		},
		GetID: func(r *todoRecord) uuid.UUID {
			id, err := uuid.Parse(r.ID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(r *todoRecord, id uuid.UUID) {
			r.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
	}
}

func newRecord(id string, t todo.Todo) todoRecord {
	var deletedAt time.Time
	if t.IsDeleted {
		deletedAt = t.UpdatedAt
	}
	return todoRecord{
		ID:          id,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		Tags:        encodeTags(t.Tags),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
		DeletedAt:   deletedAt,
		Version:     t.Version,
	}
}

func (r todoRecord) toTodo() todo.Todo {
	return todo.Todo{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      todo.Status(r.Status),
		Priority:    todo.Priority(r.Priority),
		DueDate:     utcPtr(r.DueDate),
		Tags:        decodeTags(r.Tags),
		AssignedTo:  r.AssignedTo,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		CompletedAt: utcPtr(r.CompletedAt),
		IsDeleted:   !r.DeletedAt.IsZero(),
		Version:     r.Version,
	}
}

// encodeTags stores tags as ",a,b," so a single LIKE '%,a,%' matches one
// member on every dialect.
func encodeTags(tags []string) string {
	tags = todo.NormalizeTags(tags)
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(tags, ",") + ","
}

func decodeTags(s string) []string {
	s = strings.Trim(s, ",")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// likeTag builds the LIKE pattern matching one encoded tag.
func likeTag(tag string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%," + r.Replace(tag) + ",%"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// stamp normalizes a timestamp to the precision every supported dialect keeps.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
