package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-todo-pipeline/cache"
	"github.com/goliatone/go-todo-pipeline/events"
	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

var errBrokerDown = errors.New("broker down")

func TestCreate_Ordering(t *testing.T) {
	h := newHarness(t)

	created, err := h.svc.Create(context.Background(), todo.NewTodo{
		Title:     "Draft release notes",
		Priority:  todo.PriorityHigh,
		CreatedBy: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "t1" || created.Version != 1 || created.IsDeleted {
		t.Fatalf("unexpected created record: %+v", created)
	}
	if created.Status != todo.StatusPending || created.CompletedAt != nil {
		t.Errorf("expected a pending record, got %+v", created)
	}

	assertCalls(t, h.log.all(), []string{
		"store.create",
		"publish TODO_CREATED",
		"cache.invalidate todos",
		"cache.set todo:t1",
		"cache.index todo:t1 todo",
	})

	envs := h.publisher.published()
	if len(envs) != 1 || envs[0].Key != "t1" || !envs[0].Timestamp.Equal(testNow) {
		t.Fatalf("unexpected envelopes: %+v", envs)
	}
	if payload, ok := envs[0].Payload.(todo.Todo); !ok || payload.ID != "t1" {
		t.Errorf("expected the record as payload, got %#v", envs[0].Payload)
	}
}

func TestCreate_ValidationHasNoSideEffects(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), todo.NewTodo{Title: "no author"})
	assertKind(t, err, todo.KindValidation)
	if calls := h.log.all(); len(calls) != 0 {
		t.Errorf("expected no calls, got %q", calls)
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	h := newHarness(t)
	due := testNow.Add(72 * time.Hour)
	in := todo.NewTodo{
		Title:       "Draft release notes",
		Description: "all of it",
		Status:      todo.StatusCompleted,
		Priority:    todo.PriorityHigh,
		DueDate:     &due,
		Tags:        []string{"work", "docs"},
		AssignedTo:  "bob",
		CreatedBy:   "alice",
	}
	created := h.mustCreate(t, in)

	got, err := h.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != in.Title || got.Description != in.Description || got.AssignedTo != in.AssignedTo ||
		got.CreatedBy != in.CreatedBy || got.Priority != in.Priority || got.Status != in.Status {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if !slices.Equal(got.Tags, []string{"docs", "work"}) || !got.DueDate.Equal(due) {
		t.Errorf("unexpected tags or due date: %v %v", got.Tags, got.DueDate)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(testNow) {
		t.Errorf("expected completedAt stamped at creation, got %v", got.CompletedAt)
	}
	if !got.CreatedAt.Equal(testNow) || got.Version != 1 {
		t.Errorf("unexpected server fields: %+v", got)
	}
}

func TestUpdate_Ordering(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreate(t, todo.NewTodo{Title: "Draft release notes"})
	h.log.reset()

	updated, err := h.svc.Update(context.Background(), created.ID, todo.Patch{
		Version: 1,
		Status:  ptr(todo.StatusCompleted),
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 || updated.CompletedAt == nil {
		t.Fatalf("expected version 2 with completedAt, got %+v", updated)
	}

	assertCalls(t, h.log.all(), []string{
		"store.cas t1",
		"publish TODO_UPDATED",
		"cache.invalidate todos,todo",
		"cache.set todo:t1",
		"cache.index todo:t1 todo",
	})
}

func TestUpdate_ConflictAbortsPipeline(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreate(t, todo.NewTodo{Title: "Draft release notes"})
	if _, err := h.svc.Update(context.Background(), created.ID, todo.Patch{Version: 1, Title: ptr("v2")}); err != nil {
		t.Fatal(err)
	}
	h.log.reset()

	_, err := h.svc.Update(context.Background(), created.ID, todo.Patch{Version: 1, Title: ptr("stale")})
	assertKind(t, err, todo.KindVersionConflict)
	if details := todo.DetailsOf(err); details["currentVersion"] != 2 {
		t.Errorf("expected current version in details, got %v", details)
	}
	assertCalls(t, h.log.all(), []string{"store.cas t1"})

	stored, err := h.store.FindOne(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 2 || stored.Title != "v2" {
		t.Errorf("conflict must leave the record untouched, got %+v", stored)
	}
	if got := h.metrics.outcomes[OpUpdate]; !slices.Equal(got, []string{OutcomeOK, string(todo.KindVersionConflict)}) {
		t.Errorf("unexpected outcomes: %v", got)
	}
}

func TestUpdate_NotFoundAbortsPipeline(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Update(context.Background(), "missing", todo.Patch{Version: 1, Title: ptr("x")})
	assertKind(t, err, todo.KindNotFound)
	assertCalls(t, h.log.all(), []string{"store.cas missing"})
}

func TestUpdate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		patch todo.Patch
	}{
		{name: "missing id", id: " ", patch: todo.Patch{Version: 1, Title: ptr("x")}},
		{name: "missing version", id: "t1", patch: todo.Patch{Title: ptr("x")}},
		{name: "empty patch", id: "t1", patch: todo.Patch{Version: 1}},
		{name: "bad status", id: "t1", patch: todo.Patch{Version: 1, Status: ptr(todo.Status("DONE"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Update(context.Background(), tt.id, tt.patch)
			assertKind(t, err, todo.KindValidation)
			if calls := h.log.all(); len(calls) != 0 {
				t.Errorf("expected no calls, got %q", calls)
			}
		})
	}
}

func TestDeleteRestore_Ordering(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreate(t, todo.NewTodo{Title: "cycle"})
	h.log.reset()

	if err := h.svc.Delete(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}
	assertCalls(t, h.log.all(), []string{
		"store.delete t1",
		"publish TODO_DELETED",
		"cache.delete todo:t1",
		"cache.invalidate todos",
	})
	envs := h.publisher.published()
	if payload, ok := envs[len(envs)-1].Payload.(events.DeletedPayload); !ok || payload.ID != created.ID {
		t.Errorf("expected id payload, got %#v", envs[len(envs)-1].Payload)
	}

	_, err := h.svc.Get(context.Background(), created.ID)
	assertKind(t, err, todo.KindNotFound)
	h.log.reset()

	restored, err := h.svc.Restore(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	assertCalls(t, h.log.all(), []string{
		"store.restore t1",
		"publish TODO_RESTORED",
		"cache.set todo:t1",
		"cache.index todo:t1 todo",
		"cache.invalidate todos",
	})
	if restored.IsDeleted || restored.Version != 3 {
		t.Errorf("unexpected restored record: %+v", restored)
	}

	got, err := h.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsDeleted || got.Version != 3 {
		t.Errorf("unexpected record after restore: %+v", got)
	}
}

func TestDeleteRestore_Idempotence(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreate(t, todo.NewTodo{Title: "cycle"})

	_, err := h.svc.Restore(context.Background(), created.ID)
	assertKind(t, err, todo.KindNotFound)

	if err := h.svc.Delete(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}
	h.log.reset()

	err = h.svc.Delete(context.Background(), created.ID)
	assertKind(t, err, todo.KindNotFound)
	assertCalls(t, h.log.all(), []string{"store.delete t1"})

	if _, err := h.svc.Restore(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}
	_, err = h.svc.Restore(context.Background(), created.ID)
	assertKind(t, err, todo.KindNotFound)
}

func TestPublishFailureSkipsCache(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness) string
		run   func(h *harness, id string) error
		check func(t *testing.T, stored todo.Todo)
	}{
		{
			name: "create",
			run: func(h *harness, _ string) error {
				_, err := h.svc.Create(context.Background(), todo.NewTodo{Title: "x", CreatedBy: "alice"})
				return err
			},
			check: func(t *testing.T, stored todo.Todo) {
				if stored.Version != 1 {
					t.Errorf("expected the record to be stored, got %+v", stored)
				}
			},
		},
		{
			name: "update",
			setup: func(t *testing.T, h *harness) string {
				return h.mustCreate(t, todo.NewTodo{Title: "x"}).ID
			},
			run: func(h *harness, id string) error {
				_, err := h.svc.Update(context.Background(), id, todo.Patch{Version: 1, Title: ptr("y")})
				return err
			},
			check: func(t *testing.T, stored todo.Todo) {
				if stored.Version != 2 || stored.Title != "y" {
					t.Errorf("expected the update to be applied, got %+v", stored)
				}
			},
		},
		{
			name: "delete",
			setup: func(t *testing.T, h *harness) string {
				return h.mustCreate(t, todo.NewTodo{Title: "x"}).ID
			},
			run: func(h *harness, id string) error {
				return h.svc.Delete(context.Background(), id)
			},
			check: func(t *testing.T, stored todo.Todo) {
				if !stored.IsDeleted {
					t.Errorf("expected the delete to be applied, got %+v", stored)
				}
			},
		},
		{
			name: "restore",
			setup: func(t *testing.T, h *harness) string {
				id := h.mustCreate(t, todo.NewTodo{Title: "x"}).ID
				if err := h.svc.Delete(context.Background(), id); err != nil {
					t.Fatal(err)
				}
				return id
			},
			run: func(h *harness, id string) error {
				_, err := h.svc.Restore(context.Background(), id)
				return err
			},
			check: func(t *testing.T, stored todo.Todo) {
				if stored.IsDeleted {
					t.Errorf("expected the restore to be applied, got %+v", stored)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := "t1"
			if tt.setup != nil {
				id = tt.setup(t, h)
			}
			h.log.reset()
			h.publisher.failWith(errBrokerDown)

			err := tt.run(h, id)
			assertKind(t, err, todo.KindEventPublish)
			if !todo.IsApplied(err) || !errors.Is(err, errBrokerDown) {
				t.Errorf("expected an applied error wrapping the cause, got %v", err)
			}
			if calls := h.log.withPrefix("cache."); len(calls) != 0 {
				t.Errorf("cache must not be touched after a failed publish, got %q", calls)
			}

			stored, err := h.store.FindOne(context.Background(), id, store.IncludeDeleted())
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, stored)
		})
	}
}

func TestEntityCacheFailureIsReported(t *testing.T) {
	h := newHarness(t)
	errCache := errors.New("cache down")
	h.cache.fail(nil, errCache, nil, nil)

	created, err := h.svc.Create(context.Background(), todo.NewTodo{Title: "x", CreatedBy: "alice"})
	assertKind(t, err, todo.KindCache)
	if !todo.IsApplied(err) || created.ID == "" {
		t.Fatalf("expected an applied cache error with the record, got %+v %v", created, err)
	}
	if len(h.publisher.published()) != 1 {
		t.Error("the event must be published before the cache step")
	}

	h.cache.fail(nil, nil, errCache, nil)
	err = h.svc.Delete(context.Background(), created.ID)
	assertKind(t, err, todo.KindCache)
	if details := todo.DetailsOf(err); details["id"] != created.ID {
		t.Errorf("expected id in details, got %v", details)
	}
}

func TestInvalidationFailureIsLoggedOnly(t *testing.T) {
	h := newHarness(t)
	h.cache.fail(nil, nil, nil, errors.New("tag index down"))

	created, err := h.svc.Create(context.Background(), todo.NewTodo{Title: "x", CreatedBy: "alice"})
	if err != nil {
		t.Fatalf("invalidation failures must not fail the mutation: %v", err)
	}
	if !strings.Contains(h.logs.String(), "cache tag invalidation failed") {
		t.Errorf("expected a warning in the logs, got %s", h.logs.String())
	}
	if h.metrics.invalidations[TagList] != 1 {
		t.Errorf("expected one counted invalidation failure, got %v", h.metrics.invalidations)
	}

	if _, err := h.svc.Update(context.Background(), created.ID, todo.Patch{Version: 1, Title: ptr("y")}); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.Delete(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}
}

func TestMutationsIgnoreCallerCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	created, err := h.svc.Create(ctx, todo.NewTodo{Title: "x", CreatedBy: "alice"})
	if err != nil {
		t.Fatalf("create with a cancelled context: %v", err)
	}
	if _, err := h.svc.Update(ctx, created.ID, todo.Patch{Version: 1, Title: ptr("y")}); err != nil {
		t.Fatalf("update with a cancelled context: %v", err)
	}
}

func TestGet_CacheCoherence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.mustCreate(t, todo.NewTodo{Title: "v1"})

	if got, err := h.svc.Get(ctx, created.ID); err != nil || got.Title != "v1" {
		t.Fatalf("unexpected get: %+v %v", got, err)
	}

	if _, err := h.svc.Update(ctx, created.ID, todo.Patch{Version: 1, Title: ptr("v2")}); err != nil {
		t.Fatal(err)
	}
	hit, err := h.svc.Get(ctx, created.ID)
	if err != nil || hit.Title != "v2" || hit.Version != 2 {
		t.Fatalf("cache hit returned a stale record: %+v %v", hit, err)
	}

	if err := h.cache.inner.Delete(ctx, cache.EntityKey(created.ID)); err != nil {
		t.Fatal(err)
	}
	h.log.reset()
	miss, err := h.svc.Get(ctx, created.ID)
	if err != nil || miss.Title != "v2" {
		t.Fatalf("cache miss returned a stale record: %+v %v", miss, err)
	}
	assertCalls(t, h.log.all(), []string{
		"cache.get todo:t1",
		"store.find t1",
		"cache.set todo:t1",
		"cache.index todo:t1 todo",
	})

	if got := h.metrics.lookups[OpGet]; !slices.Equal(got, []bool{true, true, false}) {
		t.Errorf("unexpected lookups: %v", got)
	}
}

func TestGet_ReturnsCopies(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreate(t, todo.NewTodo{Title: "x", Tags: []string{"a"}})

	first, err := h.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	first.Tags[0] = "mutated"

	second, err := h.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Tags[0] != "a" {
		t.Errorf("cached record was mutated through a returned value: %v", second.Tags)
	}
}

func TestGet_FailsClosed(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreate(t, todo.NewTodo{Title: "x"})
	h.cache.fail(errors.New("cache down"), nil, nil, nil)
	h.log.reset()

	_, err := h.svc.Get(context.Background(), created.ID)
	assertKind(t, err, todo.KindCache)
	if calls := h.log.withPrefix("store."); len(calls) != 0 {
		t.Errorf("reads must not fall back to the store, got %q", calls)
	}
}

func TestGet_NotFoundIsNotCached(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		_, err := h.svc.Get(context.Background(), "missing")
		assertKind(t, err, todo.KindNotFound)
	}
	if calls := h.log.withPrefix("store.find"); len(calls) != 2 {
		t.Errorf("expected both reads to reach the store, got %q", calls)
	}
}

func TestList_ReadThroughAndInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.mustCreate(t, todo.NewTodo{Title: fmt.Sprintf("item %d", i)})
	}
	h.log.reset()

	q := todo.Query{Filter: todo.Filter{Status: todo.StatusPending}, Limit: 10}
	for i := 0; i < 2; i++ {
		page, err := h.svc.List(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != 3 || len(page.Items) != 3 {
			t.Fatalf("unexpected page: %+v", page)
		}
	}
	if calls := h.log.withPrefix("store.query"); len(calls) != 1 {
		t.Fatalf("expected one store query, got %q", calls)
	}

	gets := h.log.withPrefix("cache.get ")
	key := strings.TrimPrefix(gets[0], "cache.get ")
	if !strings.HasPrefix(key, "todos:list:") {
		t.Fatalf("unexpected list key %q", key)
	}
	if tags := h.cache.tagsOf(key); !slices.Equal(tags, []string{TagList}) {
		t.Errorf("unexpected list tags %v", tags)
	}

	h.mustCreate(t, todo.NewTodo{Title: "fresh"})
	page, err := h.svc.List(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 {
		t.Errorf("listing must reflect the new record, got total %d", page.Total)
	}
	if calls := h.log.withPrefix("store.query"); len(calls) != 2 {
		t.Errorf("expected the create to invalidate listings, got %q", calls)
	}
}

func TestList_ContextTags(t *testing.T) {
	h := newHarness(t)
	ctx := WithCacheTags(context.Background(), "dashboard", TagList)

	if _, err := h.svc.List(ctx, todo.Query{}); err != nil {
		t.Fatal(err)
	}
	key := strings.TrimPrefix(h.log.withPrefix("cache.get ")[0], "cache.get ")
	if tags := h.cache.tagsOf(key); !slices.Equal(tags, []string{TagList, "dashboard"}) {
		t.Errorf("unexpected tags %v", tags)
	}
}

func TestList_EquivalentQueriesShareKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.List(ctx, todo.Query{Filter: todo.Filter{Tags: []string{"b", "a"}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.List(ctx, todo.Query{Page: 1, Limit: todo.DefaultPageSize, Filter: todo.Filter{Tags: []string{"a", "b", "a"}}}); err != nil {
		t.Fatal(err)
	}
	if calls := h.log.withPrefix("store.query"); len(calls) != 1 {
		t.Errorf("normalized queries must share a cache entry, got %q", calls)
	}
}

func TestStatistics_ReadThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mustCreate(t, todo.NewTodo{Title: "a"})
	h.mustCreate(t, todo.NewTodo{Title: "b", Status: todo.StatusInProgress})
	h.log.reset()

	stats, err := h.svc.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.ByStatus[todo.StatusPending] != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if tags := h.cache.tagsOf("todos:statistics"); !slices.Equal(tags, []string{TagList, TagStatistics}) {
		t.Errorf("unexpected statistics tags %v", tags)
	}

	stats.ByStatus[todo.StatusPending] = 99
	again, err := h.svc.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.ByStatus[todo.StatusPending] != 1 {
		t.Error("cached statistics were mutated through a returned value")
	}
	if calls := h.log.withPrefix("store.statistics"); len(calls) != 1 {
		t.Errorf("expected one aggregation, got %q", calls)
	}
}

func TestBulkUpdate_Ordering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, h.mustCreate(t, todo.NewTodo{Title: fmt.Sprintf("item %d", i)}).ID)
	}
	if _, err := h.svc.Statistics(ctx); err != nil {
		t.Fatal(err)
	}
	h.log.reset()

	res, err := h.svc.BulkUpdate(ctx, ids, todo.BulkPatch{Status: ptr(todo.StatusArchived)})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModifiedCount != 3 {
		t.Fatalf("expected 3 modified, got %d", res.ModifiedCount)
	}

	calls := h.log.all()
	if len(calls) != 6 || calls[0] != "store.bulk" || calls[4] != "cache.invalidate todos" || calls[5] != "publish-batch TODOS_BULK_UPDATED" {
		t.Fatalf("unexpected calls %q", calls)
	}
	deletes := slices.Clone(calls[1:4])
	slices.Sort(deletes)
	assertCalls(t, deletes, []string{"cache.delete todo:t1", "cache.delete todo:t2", "cache.delete todo:t3"})

	envs := h.publisher.published()
	payload, ok := envs[len(envs)-1].Payload.(events.BulkUpdatedPayload)
	if !ok || payload.ModifiedCount != 3 || !slices.Equal(payload.IDs, ids) || *payload.Patch.Status != todo.StatusArchived {
		t.Fatalf("unexpected bulk payload %#v", envs[len(envs)-1].Payload)
	}

	stats, err := h.svc.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ByStatus[todo.StatusPending] != 0 || stats.ByStatus[todo.StatusArchived] != 3 {
		t.Errorf("statistics must reflect the bulk update, got %+v", stats.ByStatus)
	}

	got, err := h.svc.Get(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != todo.StatusArchived || got.Version != 2 {
		t.Errorf("unexpected record after bulk update: %+v", got)
	}
}

func TestBulkUpdate_Validation(t *testing.T) {
	tooMany := make([]string, 101)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("id-%d", i)
	}
	archived := todo.BulkPatch{Status: ptr(todo.StatusArchived)}

	tests := []struct {
		name  string
		ids   []string
		patch todo.BulkPatch
	}{
		{name: "no ids", ids: nil, patch: archived},
		{name: "too many ids", ids: tooMany, patch: archived},
		{name: "duplicate ids", ids: []string{"a", "a"}, patch: archived},
		{name: "empty id", ids: []string{""}, patch: archived},
		{name: "empty patch", ids: []string{"a"}, patch: todo.BulkPatch{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.BulkUpdate(context.Background(), tt.ids, tt.patch)
			assertKind(t, err, todo.KindValidation)
			if calls := h.log.all(); len(calls) != 0 {
				t.Errorf("expected no calls, got %q", calls)
			}
		})
	}
}

func TestBulkUpdate_Failures(t *testing.T) {
	t.Run("cache", func(t *testing.T) {
		h := newHarness(t)
		id := h.mustCreate(t, todo.NewTodo{Title: "x"}).ID
		h.cache.fail(nil, nil, errors.New("cache down"), nil)
		h.log.reset()

		res, err := h.svc.BulkUpdate(context.Background(), []string{id}, todo.BulkPatch{Priority: ptr(todo.PriorityLow)})
		assertKind(t, err, todo.KindCache)
		if res.ModifiedCount != 1 {
			t.Errorf("expected the modified count with the error, got %d", res.ModifiedCount)
		}
		if calls := h.log.withPrefix("publish"); len(calls) != 0 {
			t.Errorf("expected no publish, got %q", calls)
		}
	})

	t.Run("publish", func(t *testing.T) {
		h := newHarness(t)
		id := h.mustCreate(t, todo.NewTodo{Title: "x"}).ID
		h.publisher.failWith(errBrokerDown)

		_, err := h.svc.BulkUpdate(context.Background(), []string{id}, todo.BulkPatch{Priority: ptr(todo.PriorityLow)})
		assertKind(t, err, todo.KindEventPublish)

		stored, err := h.store.FindOne(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Priority != todo.PriorityLow {
			t.Errorf("the bulk update must stay applied, got %+v", stored)
		}
	})
}
