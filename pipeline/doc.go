// Package pipeline coordinates the store, the event publisher and the cache
// for every todo operation.
//
// Mutations run strictly in this order: store write, event publish, cache
// maintenance. A version conflict or a missing record stops before the
// publish. A failed publish after a committed write is reported as
// todo.KindEventPublish and skips the cache step, a failed entity cache
// write as todo.KindCache. Both leave the write applied, see todo.IsApplied.
// Tag invalidation is best effort and only logged.
//
// Reads go through the cache and fail closed: a cache error is returned
// instead of falling back to the store.
//
//	svc := pipeline.New(st, cacheService, publisher, pipeline.WithLogger(logger))
//	created, err := svc.Create(ctx, todo.NewTodo{Title: "Draft release notes", CreatedBy: "alice"})
package pipeline
