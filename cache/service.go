package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidResultType is returned by GetOrFetch when a cached value does not
// have the type the caller asked for.
var ErrInvalidResultType = errors.New("cache: cached value has unexpected type")

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn is the function signature GetOrFetch expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService exposes the key-value and tag index operations the mutation
// pipeline needs. The TTL of a key is decided by the key group its prefix
// belongs to, see Config.Groups.
type CacheService interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (any, bool, error)
	// Set stores value under key using the TTL of the key's group.
	Set(ctx context.Context, key string, value any) error
	// Delete removes keys and their tag index entries.
	Delete(ctx context.Context, keys ...string) error
	// IndexKeyUnderTags records key as a member of every tag.
	IndexKeyUnderTags(ctx context.Context, key string, tags ...string) error
	// DeleteKeysByTags removes the union of keys indexed under tags.
	DeleteKeysByTags(ctx context.Context, tags ...string) error
}

// PopulateGuard decides whether a fetched value may be written back. It
// calls populate to store the value, or returns nil without calling it to
// skip the write.
type PopulateGuard func(populate func() error) error

// GetOrFetch is a type-safe read-through helper. On a miss it calls fetchFn,
// stores the result and indexes it under tags. Errors from the cache are
// returned as-is; reads never silently fall back to the source.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, tags []string, fetchFn FetchFn[T]) (T, bool, error) {
	return GetOrFetchGuarded(ctx, service, key, tags, fetchFn, nil)
}

// GetOrFetchGuarded is GetOrFetch with the write back routed through guard.
// A nil guard always populates.
func GetOrFetchGuarded[T any](ctx context.Context, service CacheService, key string, tags []string, fetchFn FetchFn[T], guard PopulateGuard) (T, bool, error) {
	var zero T

	cached, ok, err := service.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ok {
		if cached == nil {
			return zero, true, nil
		}
		value, typed := cached.(T)
		if !typed {
			return zero, false, fmt.Errorf("%w: key %s holds %T", ErrInvalidResultType, key, cached)
		}
		return value, true, nil
	}

	value, err := fetchFn(ctx)
	if err != nil {
		return zero, false, err
	}

	populate := func() error {
		if err := service.Set(ctx, key, value); err != nil {
			return fmt.Errorf("cache set %s: %w", key, err)
		}
		if len(tags) > 0 {
			if err := service.IndexKeyUnderTags(ctx, key, tags...); err != nil {
				return fmt.Errorf("cache index %s: %w", key, err)
			}
		}
		return nil
	}
	if guard == nil {
		err = populate()
	} else {
		err = guard(populate)
	}
	if err != nil {
		return zero, false, err
	}
	return value, false, nil
}
