package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-todo-pipeline/store/bunstore"
	"github.com/goliatone/go-todo-pipeline/todo"
)

var sqliteSeq atomic.Int64

// NewSQLiteStore opens a migrated, private in-memory SQLite store that is
// closed when the test ends.
func NewSQLiteStore(t *testing.T) *bunstore.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:testsupport_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	s, err := bunstore.Open(context.Background(), bunstore.Config{Driver: bunstore.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate sqlite store: %v", err)
	}
	return s
}

// Creator is satisfied by anything that creates todos, such as the
// pipeline service.
type Creator interface {
	Create(ctx context.Context, input todo.NewTodo) (todo.Todo, error)
}

// Seed creates every input through c and returns the stored records in
// input order.
func Seed(t *testing.T, c Creator, inputs []todo.NewTodo) []todo.Todo {
	t.Helper()

	out := make([]todo.Todo, 0, len(inputs))
	for i, in := range inputs {
		created, err := c.Create(context.Background(), in)
		if err != nil {
			t.Fatalf("failed to seed todo %d (%q): %v", i, in.Title, err)
		}
		out = append(out, created)
	}
	return out
}
