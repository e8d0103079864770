// Package store defines the document store contract of the todo service.
//
// Implementations own persisted state. They perform the version check and
// the version increment of CompareAndSwapUpdate in a single conditional
// statement and report problems as *todo.Error values so callers can branch
// on todo.KindNotFound and todo.KindVersionConflict.
package store

import (
	"context"
	"time"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// Store persists todos.
type Store interface {
	// Create inserts a new record with version 1 and returns it with the
	// store assigned id and timestamps.
	Create(ctx context.Context, input todo.NewTodo, now time.Time) (todo.Todo, error)

	// FindOne returns the record with id. Deleted records are reported as
	// not found unless IncludeDeleted is passed.
	FindOne(ctx context.Context, id string, opts ...FindOption) (todo.Todo, error)

	// CompareAndSwapUpdate applies patch if the stored version equals
	// expectedVersion and the record is not deleted. The version is bumped
	// by one. Zero matches are classified as todo.KindVersionConflict when an
	// active record with id exists, todo.KindNotFound otherwise.
	CompareAndSwapUpdate(ctx context.Context, id string, expectedVersion int, patch todo.Patch, now time.Time) (todo.Todo, error)

	// SoftDelete marks an active record deleted. Deleted or missing records
	// are not found.
	SoftDelete(ctx context.Context, id string, now time.Time) (todo.Todo, error)

	// Restore brings a deleted record back. Active or missing records are
	// not found.
	Restore(ctx context.Context, id string, now time.Time) (todo.Todo, error)

	// BulkUpdate applies patch to every active record in ids without a
	// version check and returns how many records changed.
	BulkUpdate(ctx context.Context, ids []string, patch todo.BulkPatch, now time.Time) (int64, error)

	// Query returns one page of active records matching q.
	Query(ctx context.Context, q todo.Query) (todo.Page, error)

	// AggregateStatistics counts active records by status and priority.
	// Overdue records have a due date before now and an open status.
	AggregateStatistics(ctx context.Context, now time.Time) (todo.Statistics, error)

	// Close releases the underlying connection.
	Close() error
}

// Migrator is implemented by stores that can create their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// FindOptions holds the settings FindOption values modify.
type FindOptions struct {
	IncludeDeleted bool
}

// FindOption configures FindOne.
type FindOption func(*FindOptions)

// IncludeDeleted makes FindOne return soft deleted records too.
func IncludeDeleted() FindOption {
	return func(o *FindOptions) {
		o.IncludeDeleted = true
	}
}

// ApplyFindOptions folds opts into a FindOptions value.
func ApplyFindOptions(opts ...FindOption) FindOptions {
	var out FindOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// NotFound returns the error stores report for a missing record.
func NotFound(op, id string) error {
	return todo.NewError(todo.KindNotFound, op, "todo "+id+" not found").
		WithMetadata(map[string]any{"id": id})
}

// VersionConflict returns the error stores report when a CAS update loses.
func VersionConflict(op, id string, expected, current int) error {
	return todo.NewError(todo.KindVersionConflict, op, "todo "+id+" was modified concurrently").
		WithMetadata(map[string]any{
			"id":              id,
			"expectedVersion": expected,
			"currentVersion":  current,
		})
}
