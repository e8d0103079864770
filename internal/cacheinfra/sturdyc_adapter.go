package cacheinfra

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
// Every group gets its own sturdyc client sharing the sizing options below.
type Config struct {
	// Capacity defines the maximum number of entries each group can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// EvictionPercentage specifies what percentage of entries to evict
	// when a group reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration

	// DefaultTTL applies to keys whose prefix matches no group.
	DefaultTTL time.Duration

	// Groups route keys to a TTL by prefix.
	Groups []GroupConfig
}

// GroupConfig binds a key prefix to a TTL.
type GroupConfig struct {
	Name   string
	Prefix string
	TTL    time.Duration
}

// DefaultConfig returns a Config with an hour long entity group and a
// five minute list group.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		EvictionPercentage: 10,
		DefaultTTL:         5 * time.Minute,
		Groups: []GroupConfig{
			{Name: "entity", Prefix: "todo:", TTL: time.Hour},
			{Name: "list", Prefix: "todos:", TTL: 5 * time.Minute},
		},
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.DefaultTTL <= 0 {
		return &ConfigError{Field: "DefaultTTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	seen := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		field := "Groups." + g.Name
		if g.Name == "" {
			return &ConfigError{Field: "Groups", Message: "name is required"}
		}
		if g.Prefix == "" {
			return &ConfigError{Field: field + ".Prefix", Message: "is required"}
		}
		if g.TTL <= 0 {
			return &ConfigError{Field: field + ".TTL", Message: "must be greater than 0"}
		}
		if _, dup := seen[g.Prefix]; dup {
			return &ConfigError{Field: field + ".Prefix", Message: "is used by another group"}
		}
		seen[g.Prefix] = struct{}{}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

type group struct {
	name   string
	prefix string
	ttl    time.Duration
	client *sturdyc.Client[any]
}

// sturdycService routes keys to per-group sturdyc clients and keeps a tag
// index next to them.
type sturdycService struct {
	groups   []*group
	fallback *group
	tags     *tagIndex
}

// NewSturdycService validates cfg and builds one sturdyc client per group
// plus a fallback client for keys outside every group.
func NewSturdycService(cfg Config) (*sturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	newClient := func(ttl time.Duration) *sturdyc.Client[any] {
		return sturdyc.New[any](
			cfg.Capacity,
			cfg.NumShards,
			ttl,
			cfg.EvictionPercentage,
			cfg.ToSturdycOptions()...,
		)
	}

	svc := &sturdycService{
		fallback: &group{name: "default", ttl: cfg.DefaultTTL, client: newClient(cfg.DefaultTTL)},
		tags:     newTagIndex(),
	}
	for _, g := range cfg.Groups {
		svc.groups = append(svc.groups, &group{
			name:   g.Name,
			prefix: g.Prefix,
			ttl:    g.TTL,
			client: newClient(g.TTL),
		})
	}
	// longest prefix wins
	sort.SliceStable(svc.groups, func(i, j int) bool {
		return len(svc.groups[i].prefix) > len(svc.groups[j].prefix)
	})

	return svc, nil
}

func (s *sturdycService) groupFor(key string) *group {
	for _, g := range s.groups {
		if strings.HasPrefix(key, g.prefix) {
			return g
		}
	}
	return s.fallback
}

// TTL returns the lifetime entries stored under key receive.
func (s *sturdycService) TTL(key string) time.Duration {
	return s.groupFor(key).ttl
}

// Get implements cache.CacheService.Get.
func (s *sturdycService) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	value, ok := s.groupFor(key).client.Get(key)
	return value, ok, nil
}

// Set implements cache.CacheService.Set.
func (s *sturdycService) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.groupFor(key).client.Set(key, value)
	return nil
}

// Delete implements cache.CacheService.Delete.
// Removes the entries and drops every tag membership of the keys.
func (s *sturdycService) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		s.groupFor(key).client.Delete(key)
		s.tags.forget(key)
	}
	return nil
}

// IndexKeyUnderTags implements cache.CacheService.IndexKeyUnderTags.
func (s *sturdycService) IndexKeyUnderTags(ctx context.Context, key string, tags ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tags.add(key, tags...)
	return nil
}

// DeleteKeysByTags implements cache.CacheService.DeleteKeysByTags.
// Keys indexed under any of tags are removed together with their index entries.
func (s *sturdycService) DeleteKeysByTags(ctx context.Context, tags ...string) error {
	keys := s.tags.collect(tags...)
	return s.Delete(ctx, keys...)
}

// Size returns the number of live entries across all groups.
func (s *sturdycService) Size() int {
	total := s.fallback.client.Size()
	for _, g := range s.groups {
		total += g.client.Size()
	}
	return total
}
