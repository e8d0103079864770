package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-todo-pipeline/cache"
	"github.com/goliatone/go-todo-pipeline/internal/cacheinfra"
	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/store/memstore"
	"github.com/goliatone/go-todo-pipeline/todo"
)

// gatedStore parks FindOne after it read the record, until release is
// closed, so a mutation can commit while a read holds an older copy.
type gatedStore struct {
	store.Store
	fetched chan todo.Todo
	release chan struct{}
}

func (s *gatedStore) FindOne(ctx context.Context, id string, opts ...store.FindOption) (todo.Todo, error) {
	t, err := s.Store.FindOne(ctx, id, opts...)
	if s.release != nil {
		s.fetched <- t
		<-s.release
	}
	return t, err
}

func (s *gatedStore) arm() {
	s.fetched = make(chan todo.Todo, 1)
	s.release = make(chan struct{})
}

type racedRead struct {
	svc   *Service
	cache cache.CacheService
	store *gatedStore
	done  chan error
}

func newRacedRead(t *testing.T) *racedRead {
	t.Helper()
	cs, err := cacheinfra.NewSturdycService(cacheinfra.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	st := &gatedStore{Store: memstore.New()}
	return &racedRead{
		svc:   New(st, cs, &recordingPublisher{log: &callLog{}}),
		cache: cs,
		store: st,
	}
}

// startGet evicts id and starts a Get that parks after reading the store.
func (r *racedRead) startGet(t *testing.T, id string) todo.Todo {
	t.Helper()
	if err := r.cache.Delete(context.Background(), cache.EntityKey(id)); err != nil {
		t.Fatal(err)
	}
	r.store.arm()
	r.done = make(chan error, 1)
	go func() {
		_, err := r.svc.Get(context.Background(), id)
		r.done <- err
	}()

	select {
	case rec := <-r.store.fetched:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("read never reached the store")
		return todo.Todo{}
	}
}

func (r *racedRead) finishGet(t *testing.T) {
	t.Helper()
	close(r.store.release)
	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("raced get: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("raced get did not return")
	}
	r.store.release = nil
}

func TestGet_RacedReadDoesNotResurrectOldVersion(t *testing.T) {
	r := newRacedRead(t)
	ctx := context.Background()
	created, err := r.svc.Create(ctx, todo.NewTodo{Title: "a", CreatedBy: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	if old := r.startGet(t, created.ID); old.Version != 1 {
		t.Fatalf("expected the parked read to hold version 1, got %d", old.Version)
	}
	if _, err := r.svc.Update(ctx, created.ID, todo.Patch{Version: 1, Title: ptr("b")}); err != nil {
		t.Fatal(err)
	}
	r.finishGet(t)

	got, err := r.svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.Title != "b" {
		t.Fatalf("get after update served a stale record: version=%d title=%q", got.Version, got.Title)
	}
}

func TestGet_RacedReadDoesNotResurrectDeletedRecord(t *testing.T) {
	r := newRacedRead(t)
	ctx := context.Background()
	created, err := r.svc.Create(ctx, todo.NewTodo{Title: "a", CreatedBy: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	r.startGet(t, created.ID)
	if err := r.svc.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	r.finishGet(t)

	_, err = r.svc.Get(ctx, created.ID)
	assertKind(t, err, todo.KindNotFound)
}

func TestList_RacedReadIsNotCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mustCreate(t, todo.NewTodo{Title: "first"})

	q := todo.Query{}
	seen := h.svc.gens.current(TagList)
	stale, err := h.store.Query(ctx, q.Normalize())
	if err != nil {
		t.Fatal(err)
	}

	h.mustCreate(t, todo.NewTodo{Title: "second"})

	// write back the page fetched before the create, the way a slow List would
	key := h.svc.listKeys.SerializeKey("list", q.Normalize())
	err = h.svc.gens.populateIf(TagList, seen, func() error {
		return h.cache.Set(ctx, key, stale)
	})
	if err != nil {
		t.Fatal(err)
	}

	page, err := h.svc.List(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("list served a page cached by a raced read: total %d", page.Total)
	}
}

func TestSetEntity_EvictsWhenMutationsInterleave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.mustCreate(t, todo.NewTodo{Title: "a"})
	key := cache.EntityKey(created.ID)

	seen := h.svc.gens.current(key)
	if err := h.svc.evictEntity(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.setEntity(ctx, created, seen); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := h.cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected the key to stay evicted after interleaved writes, ok=%v err=%v", ok, err)
	}
}

func TestGenerations(t *testing.T) {
	var g generations

	seen := g.current("k")
	ran := false
	if err := g.populateIf("k", seen, func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("populate with an unchanged counter should run, ran=%v err=%v", ran, err)
	}

	if err := g.bump("k", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	ran = false
	if err := g.populateIf("k", seen, func() error { ran = true; return nil }); err != nil || ran {
		t.Fatalf("populate after a bump should be skipped, ran=%v err=%v", ran, err)
	}

	var raced bool
	if err := g.advance("k", seen, func(r bool) error { raced = r; return nil }); err != nil || !raced {
		t.Fatalf("advance from an old snapshot should report a race, raced=%v", raced)
	}
	if err := g.advance("k", g.current("k"), func(r bool) error { raced = r; return nil }); err != nil || raced {
		t.Fatalf("advance from a fresh snapshot should not report a race")
	}
}
