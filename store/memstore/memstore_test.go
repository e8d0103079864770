package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/store/storetest"
	"github.com/goliatone/go-todo-pipeline/todo"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestDuplicateIDIsClassified(t *testing.T) {
	s := New(WithIDGenerator(func() string { return "fixed" }))
	ctx := context.Background()

	if _, err := s.Create(ctx, todo.NewTodo{Title: "one"}, storetest.Base); err != nil {
		t.Fatal(err)
	}
	_, err := s.Create(ctx, todo.NewTodo{Title: "two"}, storetest.Base)
	if !todo.IsKind(err, todo.KindDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected one record, got %d", s.Len())
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.Create(ctx, todo.NewTodo{Title: "one", Tags: []string{"a"}}, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	created.Tags[0] = "mutated"

	found, err := s.FindOne(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found.Tags[0] != "a" {
		t.Errorf("stored record shares memory with the caller: %v", found.Tags)
	}
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Create(ctx, todo.NewTodo{Title: "one"}, storetest.Base); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
