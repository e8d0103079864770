package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/store/storetest"
	"github.com/goliatone/go-todo-pipeline/todo"
)

var dbSeq atomic.Int64

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:bunstore_%d?mode=memory&cache=shared", dbSeq.Add(1))

	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestDuplicateIDIsClassified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, todo.NewTodo{Title: "one", CreatedBy: "alice"}, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}

	rec := newRecord(created.ID, created)
	_, err = s.DB().NewInsert().Model(&rec).Exec(ctx)
	if err == nil {
		t.Fatal("expected primary key violation")
	}
	if !todo.IsKind(classify("insert", created.ID, err), todo.KindDuplicate) {
		t.Errorf("expected duplicate kind, got %v", classify("insert", created.ID, err))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want todo.Kind
	}{
		{name: "no rows", err: sql.ErrNoRows, want: todo.KindNotFound},
		{name: "repository not found", err: repository.NewRecordNotFound(), want: todo.KindNotFound},
		{name: "mapped no rows", err: repository.MapCommonDatabaseErrors(sql.ErrNoRows), want: todo.KindNotFound},
		{name: "foreign error", err: errors.New("disk on fire"), want: todo.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", "42", tt.err)
			if !todo.IsKind(got, tt.want) {
				t.Fatalf("classify() = %v, want kind %s", got, tt.want)
			}
			if tt.want == todo.KindInternal && !errors.Is(got, tt.err) {
				t.Errorf("expected the cause to stay in the chain, got %v", got)
			}
		})
	}
}

func TestSoftDeleteStampsDeletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, todo.NewTodo{Title: "one", CreatedBy: "alice"}, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := s.SoftDelete(ctx, created.ID, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted.IsDeleted || deleted.Version != created.Version+1 {
		t.Fatalf("unexpected deleted record: %+v", deleted)
	}

	var rec todoRecord
	err = s.DB().NewSelect().Model(&rec).WhereAllWithDeleted().Where("?TableAlias.id = ?", created.ID).Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.DeletedAt.Equal(stamp(storetest.Base)) {
		t.Errorf("deleted_at = %v, want %v", rec.DeletedAt, stamp(storetest.Base))
	}

	n, err := s.DB().NewSelect().Model((*todoRecord)(nil)).Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("default selects should skip soft deleted rows, counted %d", n)
	}

	restored, err := s.Restore(ctx, created.ID, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	if restored.IsDeleted || restored.Version != created.Version+2 {
		t.Fatalf("unexpected restored record: %+v", restored)
	}
}

func TestCompareAndSwapReturnsUpdatedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, todo.NewTodo{Title: "one", CreatedBy: "alice"}, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	title := "two"
	updated, err := s.CompareAndSwapUpdate(ctx, created.ID, created.Version, todo.Patch{Title: &title}, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "two" || updated.Version != created.Version+1 || updated.CreatedBy != "alice" {
		t.Fatalf("unexpected row returned by update: %+v", updated)
	}

	_, err = s.CompareAndSwapUpdate(ctx, created.ID, created.Version, todo.Patch{Title: &title}, storetest.Base)
	if !todo.IsKind(err, todo.KindVersionConflict) {
		t.Fatalf("expected version conflict for a stale version, got %v", err)
	}
}

func TestTagEncoding(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{name: "empty", tags: nil, want: ""},
		{name: "sorted and framed", tags: []string{"b", "a"}, want: ",a,b,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeTags(tt.tags); got != tt.want {
				t.Errorf("encodeTags() = %q, want %q", got, tt.want)
			}
			if got := decodeTags(encodeTags(tt.tags)); len(got) != len(tt.tags) {
				t.Errorf("decodeTags() = %v", got)
			}
		})
	}

	if got := likeTag("a_b%"); got != `%,a\_b\%,%` {
		t.Errorf("likeTag() = %q", got)
	}
}
