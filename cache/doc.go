// Package cache defines the cache adapter used by the todo mutation pipeline.
//
// # Overview
//
// CacheService is a small key-value contract with a secondary tag index:
//
//   - Get, Set and Delete operate on single keys
//   - IndexKeyUnderTags records a key under one or more tag names
//   - DeleteKeysByTags evicts the union of keys registered under the tags
//
// TTLs are not passed per call. Each key belongs to a group selected by its
// prefix, and each group has its own TTL:
//
//	todo:<id>          entity group, 1 hour by default
//	todos:list:<hash>  list group, 5 minutes by default
//	todos:statistics   list group
//
// # Read-through
//
// GetOrFetch wires a cache lookup in front of a source of truth:
//
//	page, hit, err := cache.GetOrFetch(ctx, svc, key, []string{"todos"}, func(ctx context.Context) (todo.Page, error) {
//		return store.Query(ctx, q)
//	})
//
// A failing Get is returned to the caller instead of falling back to the
// source, so an unhealthy cache is visible rather than silently bypassed.
//
// # Key Serialization
//
// The default key serializer walks arguments with reflection:
//
//   - Basic types: direct string representation
//   - Slices/arrays: recursive serialization of elements
//   - Maps: sorted key-value pairs for deterministic output
//   - Structs: exported, non-zero fields with name:value pairs
//   - time.Time: RFC 3339 in UTC
//   - Anything else: JSON fallback
//
// NewHashedKeySerializer wraps it and digests the argument part with xxhash,
// which keeps listing keys short no matter how many filters a request sets.
package cache
