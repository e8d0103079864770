// Package bunstore implements store.Store on top of a go-repository-bun
// repository.
//
// SQLite (mattn/go-sqlite3) is the default driver. PostgreSQL is reached
// through lib/pq. Both share the same statements: tags are stored as a
// comma framed string, version checks are update criteria and deletion is
// bun's soft delete on deleted_at.
package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects the driver and connection settings.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	// LogQueries writes every statement at debug level.
	LogQueries bool
}

// Store is a bun backed store.Store.
type Store struct {
	db     *bun.DB
	repo   repository.Repository[*todoRecord]
	logger zerolog.Logger
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Migrator = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	var dialect schema.Dialect
	switch cfg.Driver {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		dialect = sqlitedialect.New()
	case DriverPostgres:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("bunstore: unsupported driver %q", cfg.Driver)
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("bunstore: open %s: %w", cfg.Driver, err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == DriverSQLite && maxOpen <= 0 {
		// in-memory databases vanish with their last connection
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqldb.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("bunstore: ping %s: %w", cfg.Driver, err)
	}

	s := New(bun.NewDB(sqldb, dialect), opts...)
	if cfg.LogQueries {
		s.db.AddQueryHook(&queryLogger{logger: s.logger})
	}
	return s, nil
}

// New wraps an existing bun.DB.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		repo:   repository.NewRepository(db, recordHandlers()),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the todos table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*todoRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("bunstore: create table: %w", err)
	}

	indexes := []struct {
		name    string
		columns []string
	}{
		{name: "idx_todos_active_created", columns: []string{"deleted_at", "created_at"}},
		{name: "idx_todos_status", columns: []string{"status"}},
		{name: "idx_todos_priority", columns: []string{"priority"}},
		{name: "idx_todos_assigned_to", columns: []string{"assigned_to"}},
		{name: "idx_todos_due_date", columns: []string{"due_date"}},
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().
			Model((*todoRecord)(nil)).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: create index %s: %w", idx.name, err)
		}
	}

	s.logger.Debug().Msg("bunstore schema ready")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create implements store.Store. The repository assigns the id.
func (s *Store) Create(ctx context.Context, input todo.NewTodo, now time.Time) (todo.Todo, error) {
	t := input.Todo()
	now = stamp(now)
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.DueDate != nil {
		due := stamp(*t.DueDate)
		t.DueDate = &due
	}
	if t.Status == todo.StatusCompleted {
		t.CompletedAt = &now
	}

	rec := newRecord("", t)
	created, err := s.repo.Create(ctx, &rec)
	if err != nil {
		return todo.Todo{}, classify("bunstore create", rec.ID, err)
	}
	return created.toTodo(), nil
}

// FindOne implements store.Store.
func (s *Store) FindOne(ctx context.Context, id string, opts ...store.FindOption) (todo.Todo, error) {
	return s.findOne(ctx, s.db, id, store.ApplyFindOptions(opts...))
}

func (s *Store) findOne(ctx context.Context, db bun.IDB, id string, opts store.FindOptions) (todo.Todo, error) {
	var criteria []repository.SelectCriteria
	if opts.IncludeDeleted {
		criteria = append(criteria, repository.SelectDeletedAlso())
	}
	rec, err := s.repo.GetByIDTx(ctx, db, id, criteria...)
	if err != nil {
		return todo.Todo{}, classify("bunstore find", id, err)
	}
	return rec.toTodo(), nil
}

// CompareAndSwapUpdate implements store.Store. The version predicate and the
// patch travel as update criteria, and RETURNING hands back the new row.
func (s *Store) CompareAndSwapUpdate(ctx context.Context, id string, expectedVersion int, patch todo.Patch, now time.Time) (todo.Todo, error) {
	const op = "bunstore update"
	patch = patch.Normalize()
	fields := patchFields{
		Title:       patch.Title,
		Description: patch.Description,
		Status:      patch.Status,
		Priority:    patch.Priority,
		DueDate:     patch.DueDate,
		Tags:        patch.Tags,
		AssignedTo:  patch.AssignedTo,
	}

	var out todo.Todo
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rec, err := s.repo.UpdateTx(ctx, tx, &todoRecord{ID: id},
			setPatch(fields, stamp(now)),
			repository.UpdateBy("version", "=", strconv.Itoa(expectedVersion)),
		)
		if repository.IsSQLExpectedCountViolation(err) {
			current, err := s.findOne(ctx, tx, id, store.FindOptions{})
			if err != nil {
				return err
			}
			return store.VersionConflict(op, id, expectedVersion, current.Version)
		}
		if err != nil {
			return classify(op, id, err)
		}
		out = rec.toTodo()
		return nil
	})
	if err != nil {
		return todo.Todo{}, err
	}
	return out, nil
}

// SoftDelete implements store.Store.
func (s *Store) SoftDelete(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	now = stamp(now)
	return s.toggleDeleted(ctx, "bunstore delete", id, now,
		repository.UpdateSetColumn("deleted_at", now),
	)
}

// Restore implements store.Store.
func (s *Store) Restore(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	return s.toggleDeleted(ctx, "bunstore restore", id, stamp(now),
		repository.UpdateRawProcessor(func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Set("deleted_at = NULL")
		}),
		repository.UpdateDeletedOnly(),
	)
}

// toggleDeleted bumps the version of a row matching the soft delete state
// selected by criteria. No matching row means the todo is missing or
// already in the requested state.
func (s *Store) toggleDeleted(ctx context.Context, op, id string, now time.Time, criteria ...repository.UpdateCriteria) (todo.Todo, error) {
	criteria = append([]repository.UpdateCriteria{
		repository.UpdateRawProcessor(func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Set("version = version + 1").Set("updated_at = ?", now)
		}),
	}, criteria...)

	rec, err := s.repo.Update(ctx, &todoRecord{ID: id}, criteria...)
	switch {
	case repository.IsSQLExpectedCountViolation(err):
		return todo.Todo{}, store.NotFound(op, id)
	case err != nil:
		return todo.Todo{}, classify(op, id, err)
	}
	return rec.toTodo(), nil
}

// BulkUpdate implements store.Store.
func (s *Store) BulkUpdate(ctx context.Context, ids []string, patch todo.BulkPatch, now time.Time) (int64, error) {
	const op = "bunstore bulk update"
	if len(ids) == 0 {
		return 0, nil
	}
	patch = patch.Normalize()

	q := s.db.NewUpdate().
		Model((*todoRecord)(nil)).
		Apply(setPatch(patchFields{
			Status:     patch.Status,
			Priority:   patch.Priority,
			DueDate:    patch.DueDate,
			Tags:       patch.Tags,
			AssignedTo: patch.AssignedTo,
		}, stamp(now))).
		Where("?TableAlias.id IN (?)", bun.In(ids))

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, classify(op, strings.Join(ids, ","), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, "", err)
	}
	return affected, nil
}

type patchFields struct {
	Title       *string
	Description *string
	Status      *todo.Status
	Priority    *todo.Priority
	DueDate     *time.Time
	Tags        *[]string
	AssignedTo  *string
}

// setPatch adds SET clauses for every present field. SET expressions see
// the row before the update, so completed_at compares against the old status.
func setPatch(p patchFields, now time.Time) repository.UpdateCriteria {
	return repository.UpdateRawProcessor(func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return applyPatch(q, p, now)
	})
}

func applyPatch(q *bun.UpdateQuery, p patchFields, now time.Time) *bun.UpdateQuery {
	q = q.Set("version = version + 1").Set("updated_at = ?", now)

	if p.Title != nil {
		q = q.Set("title = ?", *p.Title)
	}
	if p.Description != nil {
		q = q.Set("description = ?", *p.Description)
	}
	if p.Priority != nil {
		q = q.Set("priority = ?", string(*p.Priority))
	}
	if p.DueDate != nil {
		q = q.Set("due_date = ?", stamp(*p.DueDate))
	}
	if p.Tags != nil {
		q = q.Set("tags = ?", encodeTags(*p.Tags))
	}
	if p.AssignedTo != nil {
		q = q.Set("assigned_to = ?", *p.AssignedTo)
	}
	if p.Status != nil {
		if *p.Status == todo.StatusCompleted {
			q = q.Set("completed_at = CASE WHEN status <> ? THEN ? ELSE completed_at END",
				string(todo.StatusCompleted), now)
		}
		q = q.Set("status = ?", string(*p.Status))
	}
	return q
}
