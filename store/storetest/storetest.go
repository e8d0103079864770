// Package storetest contains the behaviour every store.Store must show.
// Implementations call Run from their own tests with a factory returning
// an empty, migrated store.
package storetest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Base is the reference clock of the suite.
var Base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAssignsServerFields", testCreate},
		{"FindOneExcludesDeleted", testFindOneExcludesDeleted},
		{"CompareAndSwapUpdate", testCompareAndSwapUpdate},
		{"CompareAndSwapConflictKeepsVersion", testConflictKeepsVersion},
		{"CompareAndSwapMissingAndDeleted", testCompareAndSwapMissing},
		{"CompletedAtTransitions", testCompletedAt},
		{"ConcurrentUpdatesOneWins", testConcurrentUpdates},
		{"SoftDeleteAndRestore", testSoftDeleteRestore},
		{"BulkUpdate", testBulkUpdate},
		{"QueryFilters", testQueryFilters},
		{"QueryTagsAnyOf", testQueryTags},
		{"QueryPaginationAndSort", testQueryPagination},
		{"QueryCreatedAtRange", testQueryDateRange},
		{"AggregateStatistics", testStatistics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustCreate(t *testing.T, s store.Store, in todo.NewTodo, now time.Time) todo.Todo {
	t.Helper()
	if in.CreatedBy == "" {
		in.CreatedBy = "alice"
	}
	created, err := s.Create(context.Background(), in, now)
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return created
}

func strPtr(s string) *string { return &s }

func statusPtr(s todo.Status) *todo.Status { return &s }

func priorityPtr(p todo.Priority) *todo.Priority { return &p }

func assertKind(t *testing.T, err error, want todo.Kind) {
	t.Helper()
	if !todo.IsKind(err, want) {
		t.Fatalf("expected %s, got %v", want, err)
	}
}

// AssertSameTodo compares two records field by field using time.Equal.
func AssertSameTodo(t *testing.T, got, want todo.Todo) {
	t.Helper()
	if got.ID != want.ID || got.Title != want.Title || got.Description != want.Description ||
		got.Status != want.Status || got.Priority != want.Priority || got.AssignedTo != want.AssignedTo ||
		got.CreatedBy != want.CreatedBy || got.IsDeleted != want.IsDeleted || got.Version != want.Version {
		t.Fatalf("records differ:\n got  %+v\n want %+v", got, want)
	}
	if !slices.Equal(got.Tags, want.Tags) {
		t.Fatalf("tags differ: got %v want %v", got.Tags, want.Tags)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("timestamps differ: got %v/%v want %v/%v", got.CreatedAt, got.UpdatedAt, want.CreatedAt, want.UpdatedAt)
	}
	if !samePtrTime(got.DueDate, want.DueDate) {
		t.Fatalf("dueDate differs: got %v want %v", got.DueDate, want.DueDate)
	}
	if !samePtrTime(got.CompletedAt, want.CompletedAt) {
		t.Fatalf("completedAt differs: got %v want %v", got.CompletedAt, want.CompletedAt)
	}
}

func samePtrTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func testCreate(t *testing.T, s store.Store) {
	due := Base.Add(48 * time.Hour)
	created := mustCreate(t, s, todo.NewTodo{
		Title:    "Draft release notes",
		Priority: todo.PriorityHigh,
		DueDate:  &due,
		Tags:     []string{"work", " docs", "work"},
	}, Base)

	if created.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if created.Version != 1 || created.IsDeleted {
		t.Fatalf("expected version 1 and active, got version=%d deleted=%v", created.Version, created.IsDeleted)
	}
	if created.Status != todo.StatusPending {
		t.Errorf("expected default status PENDING, got %s", created.Status)
	}
	if !slices.Equal(created.Tags, []string{"docs", "work"}) {
		t.Errorf("expected normalized tags, got %v", created.Tags)
	}
	if !created.CreatedAt.Equal(Base) || !created.UpdatedAt.Equal(Base) {
		t.Errorf("expected timestamps at %v, got %v/%v", Base, created.CreatedAt, created.UpdatedAt)
	}

	found, err := s.FindOne(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	AssertSameTodo(t, found, created)
}

func testFindOneExcludesDeleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, todo.NewTodo{Title: "gone"}, Base)

	if _, err := s.SoftDelete(ctx, created.ID, Base.Add(time.Minute)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := s.FindOne(ctx, created.ID)
	assertKind(t, err, todo.KindNotFound)

	found, err := s.FindOne(ctx, created.ID, store.IncludeDeleted())
	if err != nil {
		t.Fatalf("find including deleted: %v", err)
	}
	if !found.IsDeleted {
		t.Error("expected deleted flag")
	}

	_, err = s.FindOne(ctx, "does-not-exist")
	assertKind(t, err, todo.KindNotFound)
}

func testCompareAndSwapUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, todo.NewTodo{Title: "draft", Tags: []string{"a"}}, Base)
	later := Base.Add(time.Hour)

	tags := []string{"b", "a", "b"}
	patch := todo.Patch{
		Version:  1,
		Title:    strPtr("final"),
		Priority: priorityPtr(todo.PriorityUrgent),
		Tags:     &tags,
	}
	updated, err := s.CompareAndSwapUpdate(ctx, created.ID, 1, patch, later)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	want := patch.Normalize().Apply(created, later)
	AssertSameTodo(t, updated, want)

	found, err := s.FindOne(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	AssertSameTodo(t, found, want)
}

func testConflictKeepsVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, todo.NewTodo{Title: "v1"}, Base)

	if _, err := s.CompareAndSwapUpdate(ctx, created.ID, 1, todo.Patch{Version: 1, Title: strPtr("v2")}, Base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	_, err := s.CompareAndSwapUpdate(ctx, created.ID, 1, todo.Patch{Version: 1, Title: strPtr("stale")}, Base.Add(2*time.Minute))
	assertKind(t, err, todo.KindVersionConflict)
	if details := todo.DetailsOf(err); details["currentVersion"] != 2 {
		t.Errorf("expected current version in details, got %v", details)
	}

	found, err := s.FindOne(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found.Version != 2 || found.Title != "v2" {
		t.Errorf("conflict must not change the record, got version=%d title=%q", found.Version, found.Title)
	}
}

func testCompareAndSwapMissing(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CompareAndSwapUpdate(ctx, "missing", 1, todo.Patch{Version: 1, Title: strPtr("x")}, Base)
	assertKind(t, err, todo.KindNotFound)

	created := mustCreate(t, s, todo.NewTodo{Title: "soon deleted"}, Base)
	deleted, err := s.SoftDelete(ctx, created.ID, Base)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.CompareAndSwapUpdate(ctx, created.ID, deleted.Version, todo.Patch{Version: deleted.Version, Title: strPtr("x")}, Base)
	assertKind(t, err, todo.KindNotFound)
}

func testCompletedAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, todo.NewTodo{Title: "finish me"}, Base)
	if created.CompletedAt != nil {
		t.Fatal("new pending records must not be completed")
	}

	done := Base.Add(time.Hour)
	completed, err := s.CompareAndSwapUpdate(ctx, created.ID, 1, todo.Patch{Version: 1, Status: statusPtr(todo.StatusCompleted)}, done)
	if err != nil {
		t.Fatal(err)
	}
	if completed.CompletedAt == nil || !completed.CompletedAt.Equal(done) {
		t.Fatalf("expected completedAt %v, got %v", done, completed.CompletedAt)
	}

	// staying completed keeps the original stamp
	again, err := s.CompareAndSwapUpdate(ctx, created.ID, 2, todo.Patch{Version: 2, Status: statusPtr(todo.StatusCompleted)}, done.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !again.CompletedAt.Equal(done) {
		t.Errorf("completedAt re-stamped: %v", again.CompletedAt)
	}

	// leaving completed does not clear it
	reopened, err := s.CompareAndSwapUpdate(ctx, created.ID, 3, todo.Patch{Version: 3, Status: statusPtr(todo.StatusInProgress)}, done.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if reopened.CompletedAt == nil || !reopened.CompletedAt.Equal(done) {
		t.Errorf("completedAt cleared or changed: %v", reopened.CompletedAt)
	}
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, todo.NewTodo{Title: "contended"}, Base)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "writer"
			_, errs[i] = s.CompareAndSwapUpdate(ctx, created.ID, 1, todo.Patch{Version: 1, Title: &title}, Base.Add(time.Minute))
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case todo.IsKind(err, todo.KindVersionConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d conflicts", wins, conflicts)
	}

	found, err := s.FindOne(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found.Version != 2 {
		t.Errorf("expected version 2, got %d", found.Version)
	}
}

func testSoftDeleteRestore(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, todo.NewTodo{Title: "cycle", Status: todo.StatusInProgress}, Base)

	_, err := s.Restore(ctx, created.ID, Base)
	assertKind(t, err, todo.KindNotFound)

	deleted, err := s.SoftDelete(ctx, created.ID, Base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !deleted.IsDeleted || deleted.Version != 2 || deleted.Status != todo.StatusInProgress {
		t.Fatalf("unexpected deleted record: %+v", deleted)
	}

	_, err = s.SoftDelete(ctx, created.ID, Base.Add(2*time.Minute))
	assertKind(t, err, todo.KindNotFound)

	restored, err := s.Restore(ctx, created.ID, Base.Add(3*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if restored.IsDeleted || restored.Version != 3 || restored.Status != todo.StatusInProgress {
		t.Fatalf("unexpected restored record: %+v", restored)
	}

	_, err = s.SoftDelete(ctx, "missing", Base)
	assertKind(t, err, todo.KindNotFound)
	_, err = s.Restore(ctx, "missing", Base)
	assertKind(t, err, todo.KindNotFound)
}

func testBulkUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, todo.NewTodo{Title: "a"}, Base)
	b := mustCreate(t, s, todo.NewTodo{Title: "b"}, Base)
	c := mustCreate(t, s, todo.NewTodo{Title: "c"}, Base)
	if _, err := s.SoftDelete(ctx, c.ID, Base); err != nil {
		t.Fatal(err)
	}

	now := Base.Add(time.Hour)
	n, err := s.BulkUpdate(ctx, []string{a.ID, b.ID, c.ID, "missing"}, todo.BulkPatch{Status: statusPtr(todo.StatusCompleted)}, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 modified records, got %d", n)
	}

	for _, id := range []string{a.ID, b.ID} {
		found, err := s.FindOne(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if found.Status != todo.StatusCompleted || found.Version != 2 {
			t.Errorf("unexpected bulk result: %+v", found)
		}
		if found.CompletedAt == nil || !found.CompletedAt.Equal(now) {
			t.Errorf("expected completedAt %v, got %v", now, found.CompletedAt)
		}
	}

	deleted, err := s.FindOne(ctx, c.ID, store.IncludeDeleted())
	if err != nil {
		t.Fatal(err)
	}
	if deleted.Status != todo.StatusPending {
		t.Error("bulk updates must skip deleted records")
	}

	if n, err := s.BulkUpdate(ctx, nil, todo.BulkPatch{Status: statusPtr(todo.StatusArchived)}, now); err != nil || n != 0 {
		t.Errorf("expected empty bulk update to be a no-op, got %d %v", n, err)
	}
}

func seed(t *testing.T, s store.Store) map[string]todo.Todo {
	t.Helper()
	inputs := []todo.NewTodo{
		{Title: "alpha", Status: todo.StatusPending, Priority: todo.PriorityLow, Tags: []string{"home"}, AssignedTo: "bob"},
		{Title: "bravo", Status: todo.StatusInProgress, Priority: todo.PriorityHigh, Tags: []string{"work", "urgent_fix"}, AssignedTo: "bob"},
		{Title: "charlie", Status: todo.StatusCompleted, Priority: todo.PriorityMedium, Tags: []string{"work"}, CreatedBy: "carol"},
		{Title: "delta", Status: todo.StatusPending, Priority: todo.PriorityUrgent, Tags: []string{"urgentXfix"}},
		{Title: "echo", Status: todo.StatusArchived, Priority: todo.PriorityHigh},
	}
	out := make(map[string]todo.Todo, len(inputs))
	for i, in := range inputs {
		created := mustCreate(t, s, in, Base.Add(time.Duration(i)*time.Hour))
		out[created.Title] = created
	}
	return out
}

func titles(page todo.Page) []string {
	out := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		out = append(out, item.Title)
	}
	return out
}

func testQueryFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	records := seed(t, s)
	if _, err := s.SoftDelete(ctx, records["echo"].ID, Base); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter todo.Filter
		want   []string
	}{
		{name: "everything active", filter: todo.Filter{}, want: []string{"delta", "charlie", "bravo", "alpha"}},
		{name: "status", filter: todo.Filter{Status: todo.StatusPending}, want: []string{"delta", "alpha"}},
		{name: "priority", filter: todo.Filter{Priority: todo.PriorityHigh}, want: []string{"bravo"}},
		{name: "assignee", filter: todo.Filter{AssignedTo: "bob"}, want: []string{"bravo", "alpha"}},
		{name: "creator", filter: todo.Filter{CreatedBy: "carol"}, want: []string{"charlie"}},
		{name: "deleted excluded", filter: todo.Filter{Status: todo.StatusArchived}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Query(ctx, todo.Query{Filter: tt.filter})
			if err != nil {
				t.Fatal(err)
			}
			if got := titles(page); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if page.Total != len(tt.want) {
				t.Errorf("expected total %d, got %d", len(tt.want), page.Total)
			}
		})
	}
}

func testQueryTags(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s)

	tests := []struct {
		tags []string
		want []string
	}{
		{tags: []string{"work"}, want: []string{"charlie", "bravo"}},
		{tags: []string{"home", "work"}, want: []string{"charlie", "bravo", "alpha"}},
		// underscores are matched literally
		{tags: []string{"urgent_fix"}, want: []string{"bravo"}},
		{tags: []string{"wor"}, want: []string{}},
	}

	for _, tt := range tests {
		page, err := s.Query(ctx, todo.Query{Filter: todo.Filter{Tags: tt.tags}})
		if err != nil {
			t.Fatal(err)
		}
		if got := titles(page); !slices.Equal(got, tt.want) {
			t.Errorf("tags %v: got %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func testQueryPagination(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s)

	page, err := s.Query(ctx, todo.Query{Page: 2, Limit: 2, SortBy: todo.SortByTitle, SortOrder: todo.SortAsc})
	if err != nil {
		t.Fatal(err)
	}
	if got := titles(page); !slices.Equal(got, []string{"charlie", "delta"}) {
		t.Errorf("unexpected page 2: %v", got)
	}
	if page.Total != 5 || page.Page != 2 || page.Limit != 2 || page.TotalPages() != 3 {
		t.Errorf("unexpected page metadata: %+v", page)
	}

	byPriority, err := s.Query(ctx, todo.Query{SortBy: todo.SortByPriority, SortOrder: todo.SortDesc, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := titles(byPriority); !slices.Equal(got, []string{"delta"}) {
		t.Errorf("expected URGENT first, got %v", got)
	}

	clamped, err := s.Query(ctx, todo.Query{Limit: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if clamped.Limit != todo.MaxPageSize {
		t.Errorf("expected limit clamped to %d, got %d", todo.MaxPageSize, clamped.Limit)
	}

	beyond, err := s.Query(ctx, todo.Query{Page: 10, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(beyond.Items) != 0 || beyond.Total != 5 {
		t.Errorf("expected empty page past the end, got %+v", beyond)
	}
}

func testQueryDateRange(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s)

	start := Base.Add(time.Hour)
	end := Base.Add(3 * time.Hour)
	page, err := s.Query(ctx, todo.Query{
		Filter:    todo.Filter{StartDate: &start, EndDate: &end},
		SortBy:    todo.SortByCreatedAt,
		SortOrder: todo.SortAsc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := titles(page); !slices.Equal(got, []string{"bravo", "charlie", "delta"}) {
		t.Errorf("expected inclusive range, got %v", got)
	}
}

func testStatistics(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.AggregateStatistics(ctx, Base)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Total != 0 || len(empty.ByStatus) != 4 || len(empty.ByPriority) != 4 {
		t.Fatalf("expected zero filled statistics, got %+v", empty)
	}

	past := Base.Add(-time.Hour)
	future := Base.Add(time.Hour)
	mustCreate(t, s, todo.NewTodo{Title: "late", DueDate: &past}, Base)
	mustCreate(t, s, todo.NewTodo{Title: "late but done", Status: todo.StatusCompleted, DueDate: &past}, Base)
	mustCreate(t, s, todo.NewTodo{Title: "on time", Priority: todo.PriorityHigh, DueDate: &future}, Base)
	gone := mustCreate(t, s, todo.NewTodo{Title: "deleted", DueDate: &past}, Base)
	if _, err := s.SoftDelete(ctx, gone.ID, Base); err != nil {
		t.Fatal(err)
	}

	stats, err := s.AggregateStatistics(ctx, Base)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("expected 3 active records, got %d", stats.Total)
	}
	if stats.ByStatus[todo.StatusPending] != 2 || stats.ByStatus[todo.StatusCompleted] != 1 || stats.ByStatus[todo.StatusArchived] != 0 {
		t.Errorf("unexpected status counts %v", stats.ByStatus)
	}
	if stats.ByPriority[todo.PriorityMedium] != 2 || stats.ByPriority[todo.PriorityHigh] != 1 || stats.ByPriority[todo.PriorityUrgent] != 0 {
		t.Errorf("unexpected priority counts %v", stats.ByPriority)
	}
	if stats.Overdue != 1 {
		t.Errorf("expected 1 overdue record, got %d", stats.Overdue)
	}
}
