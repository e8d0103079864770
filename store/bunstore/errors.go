package bunstore

import (
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

var driverMappers = []repository.DatabaseErrorMapper{
	repository.MapSQLiteErrors,
	repository.MapPostgresErrors,
	repository.MapCommonDatabaseErrors,
}

// dbError returns the repository classification of err. Errors the
// repository already mapped pass through unchanged.
func dbError(err error) error {
	if goerrors.IsWrapped(err) {
		return err
	}
	for _, mapper := range driverMappers {
		if mapped := mapper(err); mapped != nil {
			return mapped
		}
	}
	return err
}

// classify converts database errors into the todo error taxonomy.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}

	mapped := dbError(err)
	switch {
	case repository.IsRecordNotFound(mapped):
		return store.NotFound(op, id)
	case repository.IsDuplicatedKey(mapped):
		return todo.WrapAs(todo.KindDuplicate, op, "duplicate id", err).
			WithMetadata(map[string]any{"id": id})
	default:
		return todo.WrapAs(todo.KindInternal, op, "database error", err)
	}
}
