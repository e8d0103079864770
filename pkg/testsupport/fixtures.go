// Package testsupport holds helpers shared by the package tests: fixture
// loading and ready to use stores.
package testsupport

import (
	_ "embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-todo-pipeline/todo"
)

//go:embed testdata/todos.json
var sampleTodos []byte

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// The path is relative to the test package directory.
func LoadFixtureJSON(t *testing.T, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// SampleTodos returns a fresh copy of the bundled create inputs. They cover
// every status and priority, tagged, assigned and overdue records.
func SampleTodos(t *testing.T) []todo.NewTodo {
	t.Helper()

	var out []todo.NewTodo
	if err := json.Unmarshal(sampleTodos, &out); err != nil {
		t.Fatalf("failed to unmarshal sample todos: %v", err)
	}
	return out
}
