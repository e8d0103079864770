package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// document is the BSON layout of a todo.
type document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Status      string             `bson:"status"`
	Priority    string             `bson:"priority"`
	DueDate     *time.Time         `bson:"dueDate,omitempty"`
	Tags        []string           `bson:"tags"`
	AssignedTo  string             `bson:"assignedTo"`
	CreatedBy   string             `bson:"createdBy"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
	CompletedAt *time.Time         `bson:"completedAt,omitempty"`
	IsDeleted   bool               `bson:"isDeleted"`
	Version     int                `bson:"version"`
}

func newDocument(t todo.Todo) document {
	return document{
		ID:          primitive.NewObjectID(),
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		Tags:        todo.NormalizeTags(t.Tags),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
		IsDeleted:   t.IsDeleted,
		Version:     t.Version,
	}
}

func (d document) toTodo() todo.Todo {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return todo.Todo{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Status:      todo.Status(d.Status),
		Priority:    todo.Priority(d.Priority),
		DueDate:     utcPtr(d.DueDate),
		Tags:        tags,
		AssignedTo:  d.AssignedTo,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
		CompletedAt: utcPtr(d.CompletedAt),
		IsDeleted:   d.IsDeleted,
		Version:     d.Version,
	}
}

// fieldNames maps sort columns to document fields.
var fieldNames = map[todo.SortField]string{
	todo.SortByCreatedAt: "createdAt",
	todo.SortByUpdatedAt: "updatedAt",
	todo.SortByDueDate:   "dueDate",
	todo.SortByTitle:     "title",
	todo.SortByStatus:    "status",
	todo.SortByPriority:  "priority",
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// stamp truncates to the millisecond precision of BSON dates.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
