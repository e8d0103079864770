package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-todo-pipeline/cache"
	"github.com/goliatone/go-todo-pipeline/events"
	"github.com/goliatone/go-todo-pipeline/internal/cacheinfra"
	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/store/memstore"
	"github.com/goliatone/go-todo-pipeline/todo"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// callLog records calls across the store, cache and publisher fakes so
// tests can assert their relative order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

func (l *callLog) withPrefix(prefix string) []string {
	var out []string
	for _, c := range l.all() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type recordingStore struct {
	store.Store
	log *callLog
}

func (s *recordingStore) Create(ctx context.Context, in todo.NewTodo, now time.Time) (todo.Todo, error) {
	s.log.add("store.create")
	return s.Store.Create(ctx, in, now)
}

func (s *recordingStore) FindOne(ctx context.Context, id string, opts ...store.FindOption) (todo.Todo, error) {
	s.log.add("store.find %s", id)
	return s.Store.FindOne(ctx, id, opts...)
}

func (s *recordingStore) CompareAndSwapUpdate(ctx context.Context, id string, v int, p todo.Patch, now time.Time) (todo.Todo, error) {
	s.log.add("store.cas %s", id)
	return s.Store.CompareAndSwapUpdate(ctx, id, v, p, now)
}

func (s *recordingStore) SoftDelete(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	s.log.add("store.delete %s", id)
	return s.Store.SoftDelete(ctx, id, now)
}

func (s *recordingStore) Restore(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	s.log.add("store.restore %s", id)
	return s.Store.Restore(ctx, id, now)
}

func (s *recordingStore) BulkUpdate(ctx context.Context, ids []string, p todo.BulkPatch, now time.Time) (int64, error) {
	s.log.add("store.bulk")
	return s.Store.BulkUpdate(ctx, ids, p, now)
}

func (s *recordingStore) Query(ctx context.Context, q todo.Query) (todo.Page, error) {
	s.log.add("store.query")
	return s.Store.Query(ctx, q)
}

func (s *recordingStore) AggregateStatistics(ctx context.Context, now time.Time) (todo.Statistics, error) {
	s.log.add("store.statistics")
	return s.Store.AggregateStatistics(ctx, now)
}

// recordingCache wraps the real sturdyc backed service and can be told to
// fail individual operations.
type recordingCache struct {
	inner cache.CacheService
	log   *callLog

	mu            sync.Mutex
	getErr        error
	setErr        error
	deleteErr     error
	invalidateErr error
	indexed       map[string][]string
}

func (c *recordingCache) fail(get, set, del, invalidate error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getErr, c.setErr, c.deleteErr, c.invalidateErr = get, set, del, invalidate
}

func (c *recordingCache) errs() (get, set, del, invalidate error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getErr, c.setErr, c.deleteErr, c.invalidateErr
}

func (c *recordingCache) Get(ctx context.Context, key string) (any, bool, error) {
	c.log.add("cache.get %s", key)
	if err, _, _, _ := c.errs(); err != nil {
		return nil, false, err
	}
	return c.inner.Get(ctx, key)
}

func (c *recordingCache) Set(ctx context.Context, key string, value any) error {
	c.log.add("cache.set %s", key)
	if _, err, _, _ := c.errs(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.inner.Set(ctx, key, value)
}

func (c *recordingCache) Delete(ctx context.Context, keys ...string) error {
	c.log.add("cache.delete %s", strings.Join(keys, ","))
	if _, _, err, _ := c.errs(); err != nil {
		return err
	}
	return c.inner.Delete(ctx, keys...)
}

func (c *recordingCache) IndexKeyUnderTags(ctx context.Context, key string, tags ...string) error {
	c.log.add("cache.index %s %s", key, strings.Join(tags, ","))
	c.mu.Lock()
	if c.indexed == nil {
		c.indexed = make(map[string][]string)
	}
	c.indexed[key] = slices.Clone(tags)
	c.mu.Unlock()
	return c.inner.IndexKeyUnderTags(ctx, key, tags...)
}

func (c *recordingCache) DeleteKeysByTags(ctx context.Context, tags ...string) error {
	c.log.add("cache.invalidate %s", strings.Join(tags, ","))
	if _, _, _, err := c.errs(); err != nil {
		return err
	}
	return c.inner.DeleteKeysByTags(ctx, tags...)
}

func (c *recordingCache) tagsOf(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexed[key]
}

type recordingPublisher struct {
	log *callLog

	mu   sync.Mutex
	err  error
	envs []events.Envelope
}

func (p *recordingPublisher) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.log.add("publish %s", env.Type)
	return p.record(env)
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, envs []events.Envelope) error {
	for _, env := range envs {
		p.log.add("publish-batch %s", env.Type)
	}
	return p.record(envs...)
}

func (p *recordingPublisher) record(envs ...events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envs = append(p.envs, envs...)
	return nil
}

func (p *recordingPublisher) published() []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.envs)
}

func (p *recordingPublisher) Close() error { return nil }

type countingRecorder struct {
	mu            sync.Mutex
	outcomes      map[string][]string
	lookups       map[string][]bool
	published     map[string]int
	invalidations map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		outcomes:      map[string][]string{},
		lookups:       map[string][]bool{},
		published:     map[string]int{},
		invalidations: map[string]int{},
	}
}

func (r *countingRecorder) OperationCompleted(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[op] = append(r.outcomes[op], outcome)
}

func (r *countingRecorder) CacheLookup(op string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[op] = append(r.lookups[op], hit)
}

func (r *countingRecorder) EventPublished(eventType string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.published[eventType]++
	}
}

func (r *countingRecorder) InvalidationFailed(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations[tag]++
}

type harness struct {
	svc       *Service
	log       *callLog
	store     *memstore.Store
	cache     *recordingCache
	publisher *recordingPublisher
	metrics   *countingRecorder
	logs      *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	inner, err := cacheinfra.NewSturdycService(cacheinfra.DefaultConfig())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	seq := 0
	mem := memstore.New(memstore.WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("t%d", seq)
	}))

	h := &harness{
		log:     &callLog{},
		store:   mem,
		metrics: newCountingRecorder(),
		logs:    &bytes.Buffer{},
	}
	h.cache = &recordingCache{inner: inner, log: h.log}
	h.publisher = &recordingPublisher{log: h.log}
	h.svc = New(&recordingStore{Store: mem, log: h.log}, h.cache, h.publisher,
		WithLogger(zerolog.New(h.logs)),
		WithClock(func() time.Time { return testNow }),
		WithMetrics(h.metrics),
	)
	return h
}

func (h *harness) mustCreate(t *testing.T, in todo.NewTodo) todo.Todo {
	t.Helper()
	if in.CreatedBy == "" {
		in.CreatedBy = "alice"
	}
	created, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return created
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected calls\n got: %q\nwant: %q", got, want)
	}
}

func assertKind(t *testing.T, err error, want todo.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := todo.KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s: %v", want, got, err)
	}
}

func ptr[T any](v T) *T { return &v }
