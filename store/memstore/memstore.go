// Package memstore keeps todos in process memory. It honours the same
// contract as the database backed stores and is meant for tests and local
// runs where durability does not matter.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

// Store is an in-memory store.Store. Per record updates are atomic.
type Store struct {
	records *xsync.MapOf[string, todo.Todo]
	newID   func() string
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: xsync.NewMapOf[string, todo.Todo](),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, input todo.NewTodo, now time.Time) (todo.Todo, error) {
	if err := ctx.Err(); err != nil {
		return todo.Todo{}, err
	}
	t := input.Todo()
	t.ID = s.newID()
	t.CreatedAt = now.UTC()
	t.UpdatedAt = t.CreatedAt
	if t.Status == todo.StatusCompleted {
		ts := t.CreatedAt
		t.CompletedAt = &ts
	}

	if _, loaded := s.records.LoadOrStore(t.ID, t.Clone()); loaded {
		return todo.Todo{}, todo.NewError(todo.KindDuplicate, "memstore create", "todo "+t.ID+" already exists")
	}
	return t, nil
}

// FindOne implements store.Store.
func (s *Store) FindOne(ctx context.Context, id string, opts ...store.FindOption) (todo.Todo, error) {
	if err := ctx.Err(); err != nil {
		return todo.Todo{}, err
	}
	o := store.ApplyFindOptions(opts...)
	t, ok := s.records.Load(id)
	if !ok || (t.IsDeleted && !o.IncludeDeleted) {
		return todo.Todo{}, store.NotFound("memstore find", id)
	}
	return t.Clone(), nil
}

// CompareAndSwapUpdate implements store.Store.
func (s *Store) CompareAndSwapUpdate(ctx context.Context, id string, expectedVersion int, patch todo.Patch, now time.Time) (todo.Todo, error) {
	const op = "memstore update"
	if err := ctx.Err(); err != nil {
		return todo.Todo{}, err
	}
	patch = patch.Normalize()

	var result todo.Todo
	var opErr error
	s.records.Compute(id, func(cur todo.Todo, loaded bool) (todo.Todo, bool) {
		switch {
		case !loaded:
			opErr = store.NotFound(op, id)
			return cur, true
		case cur.IsDeleted:
			opErr = store.NotFound(op, id)
			return cur, false
		case cur.Version != expectedVersion:
			opErr = store.VersionConflict(op, id, expectedVersion, cur.Version)
			return cur, false
		}
		result = patch.Apply(cur, now.UTC())
		return result.Clone(), false
	})
	if opErr != nil {
		return todo.Todo{}, opErr
	}
	return result, nil
}

// SoftDelete implements store.Store.
func (s *Store) SoftDelete(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	return s.toggleDeleted(ctx, "memstore delete", id, true, now)
}

// Restore implements store.Store.
func (s *Store) Restore(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	return s.toggleDeleted(ctx, "memstore restore", id, false, now)
}

func (s *Store) toggleDeleted(ctx context.Context, op, id string, deleted bool, now time.Time) (todo.Todo, error) {
	if err := ctx.Err(); err != nil {
		return todo.Todo{}, err
	}

	var result todo.Todo
	found := false
	s.records.Compute(id, func(cur todo.Todo, loaded bool) (todo.Todo, bool) {
		if !loaded {
			return cur, true
		}
		if cur.IsDeleted == deleted {
			return cur, false
		}
		found = true
		cur.IsDeleted = deleted
		cur.Version++
		cur.UpdatedAt = now.UTC()
		result = cur.Clone()
		return cur, false
	})
	if !found {
		return todo.Todo{}, store.NotFound(op, id)
	}
	return result, nil
}

// BulkUpdate implements store.Store.
func (s *Store) BulkUpdate(ctx context.Context, ids []string, patch todo.BulkPatch, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	patch = patch.Normalize()

	var modified int64
	for _, id := range ids {
		s.records.Compute(id, func(cur todo.Todo, loaded bool) (todo.Todo, bool) {
			if !loaded {
				return cur, true
			}
			if cur.IsDeleted {
				return cur, false
			}
			modified++
			return patch.Patch(cur.Version).Apply(cur, now.UTC()), false
		})
	}
	return modified, nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, q todo.Query) (todo.Page, error) {
	if err := ctx.Err(); err != nil {
		return todo.Page{}, err
	}
	q = q.Normalize()

	var matched []todo.Todo
	s.records.Range(func(_ string, t todo.Todo) bool {
		if q.Filter.Matches(t) {
			matched = append(matched, t.Clone())
		}
		return true
	})

	slices.SortFunc(matched, func(a, b todo.Todo) int {
		c := compareBy(q.SortBy, a, b)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if q.SortOrder == todo.SortDesc {
			return -c
		}
		return c
	})

	page := todo.Page{Items: []todo.Todo{}, Total: len(matched), Page: q.Page, Limit: q.Limit}
	if off := q.Offset(); off < len(matched) {
		page.Items = matched[off:min(off+q.Limit, len(matched))]
	}
	return page, nil
}

// AggregateStatistics implements store.Store.
func (s *Store) AggregateStatistics(ctx context.Context, now time.Time) (todo.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return todo.Statistics{}, err
	}
	stats := todo.NewStatistics()
	s.records.Range(func(_ string, t todo.Todo) bool {
		if t.IsDeleted {
			return true
		}
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		if t.DueDate != nil && t.DueDate.Before(now) && !t.Status.IsClosed() {
			stats.Overdue++
		}
		return true
	})
	return stats, nil
}

// Len returns the number of records, deleted ones included.
func (s *Store) Len() int {
	return s.records.Size()
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func compareBy(field todo.SortField, a, b todo.Todo) int {
	switch field {
	case todo.SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case todo.SortByDueDate:
		return compareOptionalTime(a.DueDate, b.DueDate)
	case todo.SortByTitle:
		return strings.Compare(a.Title, b.Title)
	case todo.SortByStatus:
		return cmp.Compare(slices.Index(todo.ValidStatuses(), a.Status), slices.Index(todo.ValidStatuses(), b.Status))
	case todo.SortByPriority:
		return cmp.Compare(slices.Index(todo.ValidPriorities(), a.Priority), slices.Index(todo.ValidPriorities(), b.Priority))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// compareOptionalTime orders missing values first, like SQL NULLs.
func compareOptionalTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
