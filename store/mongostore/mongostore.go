// Package mongostore implements store.Store on MongoDB.
//
// Conditional writes use FindOneAndUpdate with an aggregation pipeline so
// the version increment and the completedAt transition are evaluated
// against the stored document in a single server side operation.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/todo"
)

// DefaultCollection is the collection todos are stored in.
const DefaultCollection = "todos"

// Config holds the connection settings.
type Config struct {
	URI        string
	Database   string
	Collection string
	// ConnectTimeout bounds the initial connection and server selection.
	ConnectTimeout time.Duration
}

// Store is a MongoDB backed store.Store.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
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

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	s := New(client, client.Database(cfg.Database).Collection(cfg.Collection), opts...)
	return s, nil
}

// New wraps an existing collection. client may be nil when the caller owns
// the connection.
func New(client *mongo.Client, coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{client: client, coll: coll, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the indexes listings and statistics rely on.
func (s *Store) Migrate(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "isDeleted", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "priority", Value: 1}}},
		{Keys: bson.D{{Key: "assignedTo", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "dueDate", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongostore: create indexes: %w", err)
	}
	s.logger.Debug().Str("collection", s.coll.Name()).Msg("mongostore indexes ready")
	return nil
}

// Close disconnects the client if the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// Create implements store.Store.
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

	doc := newDocument(t)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return todo.Todo{}, classify("mongostore create", doc.ID.Hex(), err)
	}
	return doc.toTodo(), nil
}

// FindOne implements store.Store.
func (s *Store) FindOne(ctx context.Context, id string, opts ...store.FindOption) (todo.Todo, error) {
	const op = "mongostore find"
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return todo.Todo{}, store.NotFound(op, id)
	}

	filter := bson.D{{Key: "_id", Value: oid}}
	if !store.ApplyFindOptions(opts...).IncludeDeleted {
		filter = append(filter, bson.E{Key: "isDeleted", Value: false})
	}

	var doc document
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return todo.Todo{}, classify(op, id, err)
	}
	return doc.toTodo(), nil
}

// CompareAndSwapUpdate implements store.Store.
func (s *Store) CompareAndSwapUpdate(ctx context.Context, id string, expectedVersion int, patch todo.Patch, now time.Time) (todo.Todo, error) {
	const op = "mongostore update"
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return todo.Todo{}, store.NotFound(op, id)
	}
	patch = patch.Normalize()

	filter := bson.D{
		{Key: "_id", Value: oid},
		{Key: "version", Value: expectedVersion},
		{Key: "isDeleted", Value: false},
	}
	update := patchPipeline(patchFields{
		Title:       patch.Title,
		Description: patch.Description,
		Status:      patch.Status,
		Priority:    patch.Priority,
		DueDate:     patch.DueDate,
		Tags:        patch.Tags,
		AssignedTo:  patch.AssignedTo,
	}, stamp(now))

	var doc document
	err = s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.toTodo(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return todo.Todo{}, classify(op, id, err)
	}

	current, findErr := s.FindOne(ctx, id)
	if findErr != nil {
		return todo.Todo{}, findErr
	}
	return todo.Todo{}, store.VersionConflict(op, id, expectedVersion, current.Version)
}

// SoftDelete implements store.Store.
func (s *Store) SoftDelete(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	return s.toggleDeleted(ctx, "mongostore delete", id, true, now)
}

// Restore implements store.Store.
func (s *Store) Restore(ctx context.Context, id string, now time.Time) (todo.Todo, error) {
	return s.toggleDeleted(ctx, "mongostore restore", id, false, now)
}

func (s *Store) toggleDeleted(ctx context.Context, op, id string, deleted bool, now time.Time) (todo.Todo, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return todo.Todo{}, store.NotFound(op, id)
	}

	filter := bson.D{{Key: "_id", Value: oid}, {Key: "isDeleted", Value: !deleted}}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "isDeleted", Value: deleted}, {Key: "updatedAt", Value: stamp(now)}}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}

	var doc document
	err = s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return todo.Todo{}, classify(op, id, err)
	}
	return doc.toTodo(), nil
}

// BulkUpdate implements store.Store.
func (s *Store) BulkUpdate(ctx context.Context, ids []string, patch todo.BulkPatch, now time.Time) (int64, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		// unknown ids can never match
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return 0, nil
	}
	patch = patch.Normalize()

	filter := bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: oids}}},
		{Key: "isDeleted", Value: false},
	}
	update := patchPipeline(patchFields{
		Status:     patch.Status,
		Priority:   patch.Priority,
		DueDate:    patch.DueDate,
		Tags:       patch.Tags,
		AssignedTo: patch.AssignedTo,
	}, stamp(now))

	res, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, classify("mongostore bulk update", "", err)
	}
	return res.ModifiedCount, nil
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

// patchPipeline builds a single $set stage. Expressions in one stage read
// the input document, so completedAt compares against the old status. User
// supplied values are wrapped in $literal so a leading "$" is never read as
// a field path.
func patchPipeline(p patchFields, now time.Time) mongo.Pipeline {
	set := bson.D{
		{Key: "version", Value: bson.D{{Key: "$add", Value: bson.A{"$version", 1}}}},
		{Key: "updatedAt", Value: now},
	}
	literal := func(v any) bson.D {
		return bson.D{{Key: "$literal", Value: v}}
	}

	if p.Title != nil {
		set = append(set, bson.E{Key: "title", Value: literal(*p.Title)})
	}
	if p.Description != nil {
		set = append(set, bson.E{Key: "description", Value: literal(*p.Description)})
	}
	if p.Priority != nil {
		set = append(set, bson.E{Key: "priority", Value: literal(string(*p.Priority))})
	}
	if p.DueDate != nil {
		set = append(set, bson.E{Key: "dueDate", Value: stamp(*p.DueDate)})
	}
	if p.Tags != nil {
		set = append(set, bson.E{Key: "tags", Value: literal(todo.NormalizeTags(*p.Tags))})
	}
	if p.AssignedTo != nil {
		set = append(set, bson.E{Key: "assignedTo", Value: literal(*p.AssignedTo)})
	}
	if p.Status != nil {
		if *p.Status == todo.StatusCompleted {
			set = append(set, bson.E{Key: "completedAt", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$ne", Value: bson.A{"$status", string(todo.StatusCompleted)}}},
				now,
				"$completedAt",
			}}}})
		}
		set = append(set, bson.E{Key: "status", Value: literal(string(*p.Status))})
	}

	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func classify(op, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.NotFound(op, id)
	case mongo.IsDuplicateKeyError(err):
		return todo.Wrap(todo.KindDuplicate, op, err)
	default:
		return todo.Wrap(todo.KindInternal, op, err)
	}
}
