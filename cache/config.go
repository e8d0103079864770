package cache

import (
	"strings"
	"time"

	"github.com/goliatone/go-todo-pipeline/internal/cacheinfra"
)

const (
	// EntityPrefix prefixes single record keys, for example "todo:42".
	EntityPrefix = "todo:"

	// ListPrefix prefixes listing and statistics keys.
	ListPrefix = "todos:"

	// EntityTTL is the default lifetime of single record entries.
	EntityTTL = time.Hour

	// ListTTL is the default lifetime of listing and statistics entries.
	ListTTL = 5 * time.Minute
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration
	// DefaultTTL applies to keys that match no group.
	DefaultTTL time.Duration
	Groups     []GroupConfig
}

// GroupConfig assigns a TTL to every key starting with Prefix.
type GroupConfig struct {
	Name   string
	Prefix string
	TTL    time.Duration
}

// DefaultConfig returns a Config with the entity and list groups populated.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the default cache service implementation using the provided configuration.
func NewCacheService(cfg Config) (CacheService, error) {
	return cacheinfra.NewSturdycService(cfg.toInternal())
}

// EntityKey returns the cache key of a single record.
func EntityKey(id string) string {
	return EntityPrefix + id
}

// IsEntityKey reports whether key belongs to the entity group.
func IsEntityKey(key string) bool {
	return strings.HasPrefix(key, EntityPrefix)
}

func (c Config) toInternal() cacheinfra.Config {
	groups := make([]cacheinfra.GroupConfig, 0, len(c.Groups))
	for _, g := range c.Groups {
		groups = append(groups, cacheinfra.GroupConfig{Name: g.Name, Prefix: g.Prefix, TTL: g.TTL})
	}

	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
		DefaultTTL:         c.DefaultTTL,
		Groups:             groups,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	groups := make([]GroupConfig, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		groups = append(groups, GroupConfig{Name: g.Name, Prefix: g.Prefix, TTL: g.TTL})
	}

	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
		DefaultTTL:         cfg.DefaultTTL,
		Groups:             groups,
	}
}
