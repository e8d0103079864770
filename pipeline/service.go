package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-todo-pipeline/cache"
	"github.com/goliatone/go-todo-pipeline/events"
	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

// Operation names used in errors, logs and metrics.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpRestore    = "restore"
	OpBulkUpdate = "bulk_update"
	OpGet        = "get"
	OpList       = "list"
	OpStatistics = "statistics"
)

// BulkResult is returned by BulkUpdate.
type BulkResult struct {
	ModifiedCount int64 `json:"modifiedCount"`
}

// Service runs every todo mutation as store write, then event publish,
// then cache maintenance. The steps of one call never overlap.
type Service struct {
	store     store.Store
	cache     cache.CacheService
	publisher events.Publisher

	logger      zerolog.Logger
	now         func() time.Time
	metrics     Recorder
	listKeys    cache.KeySerializer
	concurrency int
	gens        *generations
}

// New wires a Service around its three collaborators.
func New(st store.Store, cs cache.CacheService, pub events.Publisher, opts ...Option) *Service {
	s := &Service{
		store:       st,
		cache:       cs,
		publisher:   pub,
		logger:      zerolog.Nop(),
		now:         time.Now,
		metrics:     nopRecorder{},
		listKeys:    cache.NewHashedKeySerializer(cache.ListPrefix),
		concurrency: DefaultInvalidationConcurrency,
		gens:        &generations{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new todo, announces it and caches it.
func (s *Service) Create(ctx context.Context, input todo.NewTodo) (out todo.Todo, err error) {
	defer s.observe(OpCreate, s.now(), &err)

	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return todo.Todo{}, err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()

	created, err := s.store.Create(ctx, input, now)
	if err != nil {
		return todo.Todo{}, todo.Wrap(todo.KindInternal, OpCreate, err)
	}
	log := s.log(ctx).With().Str("op", OpCreate).Str("id", created.ID).Logger()

	if err := s.publish(ctx, OpCreate, events.TodoCreated, created.ID, created, now); err != nil {
		log.Error().Err(err).Msg("todo stored but event was not published")
		return created, err
	}

	s.invalidate(ctx, log, TagList)
	if err := s.setEntity(ctx, created, s.gens.current(cache.EntityKey(created.ID))); err != nil {
		log.Error().Err(err).Msg("todo stored but entity cache was not populated")
		return created, cacheError(OpCreate, created.ID, err)
	}

	log.Debug().Msg("todo created")
	return created, nil
}

// Update applies a version checked patch. A conflict or a missing record
// stops the pipeline before any event or cache work.
func (s *Service) Update(ctx context.Context, id string, patch todo.Patch) (out todo.Todo, err error) {
	defer s.observe(OpUpdate, s.now(), &err)

	if err := validateID(OpUpdate, id); err != nil {
		return todo.Todo{}, err
	}
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return todo.Todo{}, err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	seen := s.gens.current(cache.EntityKey(id))

	updated, err := s.store.CompareAndSwapUpdate(ctx, id, patch.Version, patch, now)
	if err != nil {
		return todo.Todo{}, todo.Wrap(todo.KindInternal, OpUpdate, err)
	}
	log := s.log(ctx).With().Str("op", OpUpdate).Str("id", id).Int("version", updated.Version).Logger()

	if err := s.publish(ctx, OpUpdate, events.TodoUpdated, id, updated, now); err != nil {
		log.Error().Err(err).Msg("todo updated but event was not published")
		return updated, err
	}

	s.invalidate(ctx, log, TagList, TagEntity)
	if err := s.setEntity(ctx, updated, seen); err != nil {
		log.Error().Err(err).Msg("todo updated but entity cache was not refreshed")
		return updated, cacheError(OpUpdate, id, err)
	}

	log.Debug().Msg("todo updated")
	return updated, nil
}

// Delete soft deletes a todo and drops its cache entry.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer s.observe(OpDelete, s.now(), &err)

	if err := validateID(OpDelete, id); err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()

	if _, err := s.store.SoftDelete(ctx, id, now); err != nil {
		return todo.Wrap(todo.KindInternal, OpDelete, err)
	}
	log := s.log(ctx).With().Str("op", OpDelete).Str("id", id).Logger()

	if err := s.publish(ctx, OpDelete, events.TodoDeleted, id, events.DeletedPayload{ID: id}, now); err != nil {
		log.Error().Err(err).Msg("todo deleted but event was not published")
		return err
	}

	if err := s.evictEntity(ctx, id); err != nil {
		log.Error().Err(err).Msg("todo deleted but entity cache was not evicted")
		return cacheError(OpDelete, id, err)
	}
	s.invalidate(ctx, log, TagList)

	log.Debug().Msg("todo deleted")
	return nil
}

// Restore brings a soft deleted todo back and caches it again.
func (s *Service) Restore(ctx context.Context, id string) (out todo.Todo, err error) {
	defer s.observe(OpRestore, s.now(), &err)

	if err := validateID(OpRestore, id); err != nil {
		return todo.Todo{}, err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	seen := s.gens.current(cache.EntityKey(id))

	restored, err := s.store.Restore(ctx, id, now)
	if err != nil {
		return todo.Todo{}, todo.Wrap(todo.KindInternal, OpRestore, err)
	}
	log := s.log(ctx).With().Str("op", OpRestore).Str("id", id).Logger()

	if err := s.publish(ctx, OpRestore, events.TodoRestored, id, restored, now); err != nil {
		log.Error().Err(err).Msg("todo restored but event was not published")
		return restored, err
	}

	if err := s.setEntity(ctx, restored, seen); err != nil {
		log.Error().Err(err).Msg("todo restored but entity cache was not populated")
		return restored, cacheError(OpRestore, id, err)
	}
	s.invalidate(ctx, log, TagList)

	log.Debug().Msg("todo restored")
	return restored, nil
}

// BulkUpdate applies patch to every active todo in ids without checking
// versions. The entity keys are evicted concurrently, then a single
// TODOS_BULK_UPDATED event is published.
func (s *Service) BulkUpdate(ctx context.Context, ids []string, patch todo.BulkPatch) (out BulkResult, err error) {
	defer s.observe(OpBulkUpdate, s.now(), &err)

	if err := todo.ValidateIDs(ids); err != nil {
		return BulkResult{}, err
	}
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return BulkResult{}, err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()

	modified, err := s.store.BulkUpdate(ctx, ids, patch, now)
	if err != nil {
		return BulkResult{}, todo.Wrap(todo.KindInternal, OpBulkUpdate, err)
	}
	out = BulkResult{ModifiedCount: modified}
	log := s.log(ctx).With().Str("op", OpBulkUpdate).Int("ids", len(ids)).Int64("modified", modified).Logger()

	if err := s.evictEntities(ctx, ids); err != nil {
		log.Error().Err(err).Msg("bulk update stored but entity caches were not evicted")
		return out, cacheError(OpBulkUpdate, "", err)
	}
	s.invalidate(ctx, log, TagList)

	env := events.Envelope{
		Type: events.TodosBulkUpdated,
		Payload: events.BulkUpdatedPayload{
			IDs:           append([]string(nil), ids...),
			Patch:         patch,
			ModifiedCount: modified,
		},
		Timestamp: now,
	}
	err = s.publisher.PublishBatch(ctx, []events.Envelope{env})
	s.metrics.EventPublished(string(env.Type), err)
	if err != nil {
		log.Error().Err(err).Msg("bulk update stored but event was not published")
		return out, publishError(OpBulkUpdate, "", err)
	}

	log.Debug().Msg("bulk update applied")
	return out, nil
}

// Get returns an active todo, reading through the entity cache.
func (s *Service) Get(ctx context.Context, id string) (out todo.Todo, err error) {
	defer s.observe(OpGet, s.now(), &err)

	if err := validateID(OpGet, id); err != nil {
		return todo.Todo{}, err
	}

	key := cache.EntityKey(id)
	seen := s.gens.current(key)

	var storeErr error
	value, hit, err := cache.GetOrFetchGuarded(ctx, s.cache, key, readTags(ctx, TagEntity),
		func(ctx context.Context) (todo.Todo, error) {
			t, err := s.store.FindOne(ctx, id)
			storeErr = err
			return t, err
		}, s.gens.guard(key, seen))
	if err != nil {
		return todo.Todo{}, s.readError(OpGet, id, storeErr, err)
	}
	s.metrics.CacheLookup(OpGet, hit)
	return value.Clone(), nil
}

// List runs a filtered, paginated query, reading through the list cache.
func (s *Service) List(ctx context.Context, q todo.Query) (out todo.Page, err error) {
	defer s.observe(OpList, s.now(), &err)

	q = q.Normalize()
	key := s.listKeys.SerializeKey("list", q)
	seen := s.gens.current(TagList)

	var storeErr error
	page, hit, err := cache.GetOrFetchGuarded(ctx, s.cache, key, readTags(ctx, TagList),
		func(ctx context.Context) (todo.Page, error) {
			p, err := s.store.Query(ctx, q)
			storeErr = err
			return p, err
		}, s.gens.guard(TagList, seen))
	if err != nil {
		return todo.Page{}, s.readError(OpList, "", storeErr, err)
	}
	s.metrics.CacheLookup(OpList, hit)
	return clonePage(page), nil
}

// Statistics returns aggregate counts over active todos, reading through
// the statistics cache.
func (s *Service) Statistics(ctx context.Context) (out todo.Statistics, err error) {
	defer s.observe(OpStatistics, s.now(), &err)

	key := s.listKeys.SerializeKey("statistics")
	seen := s.gens.current(TagList)

	var storeErr error
	stats, hit, err := cache.GetOrFetchGuarded(ctx, s.cache, key, readTags(ctx, TagList, TagStatistics),
		func(ctx context.Context) (todo.Statistics, error) {
			st, err := s.store.AggregateStatistics(ctx, s.now().UTC())
			storeErr = err
			return st, err
		}, s.gens.guard(TagList, seen))
	if err != nil {
		return todo.Statistics{}, s.readError(OpStatistics, "", storeErr, err)
	}
	s.metrics.CacheLookup(OpStatistics, hit)
	return stats.Clone(), nil
}

func (s *Service) publish(ctx context.Context, op string, typ events.Type, id string, payload any, now time.Time) error {
	err := s.publisher.Publish(ctx, events.Envelope{
		Type:      typ,
		Payload:   payload,
		Timestamp: now,
		Key:       id,
	})
	s.metrics.EventPublished(string(typ), err)
	if err != nil {
		return publishError(op, id, err)
	}
	return nil
}

// setEntity caches t. seen is the key's generation taken before the store
// write; if another mutation moved it since, the order of the two cache
// writes is unknown and the key is evicted instead.
func (s *Service) setEntity(ctx context.Context, t todo.Todo, seen uint64) error {
	key := cache.EntityKey(t.ID)
	return s.gens.advance(key, seen, func(raced bool) error {
		if raced {
			return s.cache.Delete(ctx, key)
		}
		if err := s.cache.Set(ctx, key, t.Clone()); err != nil {
			return err
		}
		return s.cache.IndexKeyUnderTags(ctx, key, TagEntity)
	})
}

func (s *Service) evictEntity(ctx context.Context, id string) error {
	key := cache.EntityKey(id)
	return s.gens.bump(key, func() error {
		return s.cache.Delete(ctx, key)
	})
}

// invalidate is best effort. Failures are logged and counted only.
func (s *Service) invalidate(ctx context.Context, log zerolog.Logger, tags ...string) {
	err := s.gens.bump(TagList, func() error {
		return s.cache.DeleteKeysByTags(ctx, tags...)
	})
	if err != nil {
		for _, tag := range tags {
			s.metrics.InvalidationFailed(tag)
		}
		log.Warn().Err(err).Strs("tags", tags).Msg("cache tag invalidation failed")
	}
}

func (s *Service) evictEntities(ctx context.Context, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			return s.evictEntity(gctx, id)
		})
	}
	return g.Wait()
}

func (s *Service) readError(op, id string, storeErr, err error) error {
	if storeErr != nil {
		return todo.Wrap(todo.KindInternal, op, storeErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return cacheError(op, id, err)
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	outcome := OutcomeOK
	if *errp != nil {
		outcome = string(todo.KindOf(*errp))
	}
	s.metrics.OperationCompleted(op, outcome, s.now().Sub(start))
}

// log prefers the request scoped logger carried by ctx.
func (s *Service) log(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return s.logger
}

func validateID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return todo.ValidationErrors{"id": "id is required"}.AsError(op)
	}
	return nil
}

func cacheError(op, id string, err error) error {
	return withID(todo.WrapAs(todo.KindCache, op, "cache operation failed", err), id)
}

func publishError(op, id string, err error) error {
	return withID(todo.WrapAs(todo.KindEventPublish, op, "event publish failed after the write was applied", err), id)
}

func withID(e *todo.Error, id string) *todo.Error {
	if id == "" {
		return e
	}
	return e.WithMetadata(map[string]any{"id": id})
}

func clonePage(p todo.Page) todo.Page {
	items := make([]todo.Todo, len(p.Items))
	for i, t := range p.Items {
		items[i] = t.Clone()
	}
	p.Items = items
	return p
}
