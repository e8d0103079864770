package pipeline

import (
	"context"
	"slices"
)

// Cache tags the pipeline indexes keys under.
const (
	// TagList covers every listing and the statistics entry.
	TagList = "todos"
	// TagEntity covers every single record entry.
	TagEntity = "todo"
	// TagStatistics covers the statistics entry.
	TagStatistics = "statistics"
)

type cacheTagsContextKey struct{}

// WithCacheTags attaches additional cache tags to the context. Read paths
// index the keys they populate under these tags too, so callers can evict
// their own groups of entries with a single tag.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

// readTags merges fixed tags with the context tags.
func readTags(ctx context.Context, fixed ...string) []string {
	return dedupeStrings(append(fixed, cacheTagsFromContext(ctx)...))
}

func dedupeStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
