package pipeline

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const generationStripes = 256

// generations holds striped counters keyed by cache key. Mutations advance
// the counter of every key they write or evict. A read snapshots the
// counter before it fetches and writes its result back only if the counter
// has not moved, so a fetch that raced a mutation never replaces the
// mutation's cache state with an older copy. Keys sharing a stripe only
// cost each other a skipped populate.
type generations struct {
	stripes [generationStripes]generationStripe
}

type generationStripe struct {
	mu  sync.Mutex
	gen uint64
}

func (g *generations) stripe(key string) *generationStripe {
	return &g.stripes[xxhash.Sum64String(key)%generationStripes]
}

// current returns the counter for key.
func (g *generations) current(key string) uint64 {
	s := g.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// populateIf runs populate while holding the stripe, and only if the
// counter still equals seen.
func (g *generations) populateIf(key string, seen uint64, populate func() error) error {
	s := g.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != seen {
		return nil
	}
	return populate()
}

// guard adapts populateIf to a cache.PopulateGuard.
func (g *generations) guard(key string, seen uint64) func(func() error) error {
	return func(populate func() error) error {
		return g.populateIf(key, seen, populate)
	}
}

// advance bumps the counter for key and runs write while holding the
// stripe. raced reports whether another mutation advanced the counter
// after seen was taken.
func (g *generations) advance(key string, seen uint64, write func(raced bool) error) error {
	s := g.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	raced := s.gen != seen
	s.gen++
	return write(raced)
}

// bump advances the counter for key and runs write while holding the
// stripe.
func (g *generations) bump(key string, write func() error) error {
	return g.advance(key, 0, func(bool) error { return write() })
}
