// Package config loads the service configuration.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults (Default)
//  2. a YAML file: the explicit path, $TODO_CONFIG, or the first of
//     DefaultConfigPaths that exists
//  3. environment variables prefixed with TODO_, e.g. TODO_SERVER_PORT
//
// The result is validated before it is returned.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/goliatone/go-todo-pipeline/events"
	"github.com/goliatone/go-todo-pipeline/internal/cacheinfra"
	"github.com/goliatone/go-todo-pipeline/internal/logging"
	"github.com/goliatone/go-todo-pipeline/store/bunstore"
	"github.com/goliatone/go-todo-pipeline/store/mongostore"
)

// Store drivers.
const (
	DriverSQLite   = bunstore.DriverSQLite
	DriverPostgres = bunstore.DriverPostgres
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Event sinks.
const (
	SinkChannel = "channel"
	SinkNATS    = "nats"
)

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Mongo  MongoConfig  `koanf:"mongo"`
	Cache  CacheConfig  `koanf:"cache"`
	Events EventsConfig `koanf:"events"`
	NATS   NATSConfig   `koanf:"nats"`
	Log    LogConfig    `koanf:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RateLimit is the number of requests per RateWindow and client IP.
	// Zero disables rate limiting.
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
}

// StoreConfig selects the store driver.
type StoreConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	LogQueries   bool   `koanf:"log_queries"`
	// AutoMigrate creates the schema when the server starts.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// MongoConfig is used when Store.Driver is mongo.
type MongoConfig struct {
	URI            string        `koanf:"uri"`
	Database       string        `koanf:"database"`
	Collection     string        `koanf:"collection"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// CacheConfig sizes the cache and sets the TTL of each key group.
type CacheConfig struct {
	Capacity           int           `koanf:"capacity"`
	NumShards          int           `koanf:"num_shards"`
	EvictionPercentage int           `koanf:"eviction_percentage"`
	EvictionInterval   time.Duration `koanf:"eviction_interval"`
	EntityTTL          time.Duration `koanf:"entity_ttl"`
	ListTTL            time.Duration `koanf:"list_ttl"`
}

// EventsConfig selects the event sink.
type EventsConfig struct {
	Sink          string        `koanf:"sink"`
	Topic         string        `koanf:"topic"`
	Persistent    bool          `koanf:"persistent"`
	BlockUntilAck bool          `koanf:"block_until_ack"`
	OutputBuffer  int64         `koanf:"output_buffer"`
	Breaker       BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the publish circuit breaker.
type BreakerConfig struct {
	Disabled         bool          `koanf:"disabled"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// NATSConfig is used when Events.Sink is nats.
type NATSConfig struct {
	URL                  string        `koanf:"url"`
	MaxReconnects        int           `koanf:"max_reconnects"`
	ReconnectWait        time.Duration `koanf:"reconnect_wait"`
	ReconnectBuffer      int           `koanf:"reconnect_buffer"`
	AutoProvision        bool          `koanf:"auto_provision"`
	TrackMsgID           bool          `koanf:"track_msg_id"`
	PublishRetryAttempts int           `koanf:"publish_retry_attempts"`
	PublishRetryWait     time.Duration `koanf:"publish_retry_wait"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration: SQLite on disk, an in
// process event channel and JSON logs.
func Default() Config {
	cache := cacheinfra.DefaultConfig()
	breaker := events.DefaultBreakerConfig()
	channel := events.DefaultChannelConfig()
	nats := events.DefaultNATSConfig()

	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       100,
			RateWindow:      time.Minute,
		},
		Store: StoreConfig{
			Driver:       DriverSQLite,
			DSN:          "file:todos.db?_foreign_keys=on&_busy_timeout=5000",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			AutoMigrate:  true,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "todos",
			Collection:     "todos",
			ConnectTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:           cache.Capacity,
			NumShards:          cache.NumShards,
			EvictionPercentage: cache.EvictionPercentage,
			EvictionInterval:   time.Minute,
			EntityTTL:          time.Hour,
			ListTTL:            5 * time.Minute,
		},
		Events: EventsConfig{
			Sink:          SinkChannel,
			Topic:         events.DefaultTopic,
			Persistent:    channel.Persistent,
			BlockUntilAck: channel.BlockUntilAck,
			OutputBuffer:  channel.OutputBuffer,
			Breaker: BreakerConfig{
				MaxRequests:      breaker.MaxRequests,
				Interval:         breaker.Interval,
				Timeout:          breaker.Timeout,
				FailureThreshold: breaker.FailureThreshold,
			},
		},
		NATS: NATSConfig{
			URL:                  nats.URL,
			MaxReconnects:        nats.MaxReconnects,
			ReconnectWait:        nats.ReconnectWait,
			ReconnectBuffer:      nats.ReconnectBuffer,
			AutoProvision:        nats.AutoProvision,
			TrackMsgID:           nats.TrackMsgID,
			PublishRetryAttempts: nats.PublishRetryAttempts,
			PublishRetryWait:     nats.PublishRetryWait,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
	}
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Bun converts the store section for bunstore.Open.
func (c StoreConfig) Bun() bunstore.Config {
	return bunstore.Config{
		Driver:       c.Driver,
		DSN:          c.DSN,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
		LogQueries:   c.LogQueries,
	}
}

// Store converts the mongo section for mongostore.Open.
func (c MongoConfig) Store() mongostore.Config {
	return mongostore.Config{
		URI:            c.URI,
		Database:       c.Database,
		Collection:     c.Collection,
		ConnectTimeout: c.ConnectTimeout,
	}
}

// Sturdyc converts the cache section, mapping the entity and list TTLs to
// their key groups.
func (c CacheConfig) Sturdyc() cacheinfra.Config {
	cfg := cacheinfra.DefaultConfig()
	cfg.Capacity = c.Capacity
	cfg.NumShards = c.NumShards
	cfg.EvictionPercentage = c.EvictionPercentage
	cfg.EvictionInterval = c.EvictionInterval
	cfg.DefaultTTL = c.ListTTL

	groups := make([]cacheinfra.GroupConfig, len(cfg.Groups))
	copy(groups, cfg.Groups)
	for i := range groups {
		switch groups[i].Name {
		case "entity":
			groups[i].TTL = c.EntityTTL
		case "list":
			groups[i].TTL = c.ListTTL
		}
	}
	cfg.Groups = groups
	return cfg
}

// Publisher converts the events section.
func (c EventsConfig) Publisher() events.Config {
	return events.Config{
		Topic: c.Topic,
		Breaker: events.BreakerConfig{
			Disabled:         c.Breaker.Disabled,
			Name:             c.Topic,
			MaxRequests:      c.Breaker.MaxRequests,
			Interval:         c.Breaker.Interval,
			Timeout:          c.Breaker.Timeout,
			FailureThreshold: c.Breaker.FailureThreshold,
		},
	}
}

// Channel converts the events section for the in process sink.
func (c EventsConfig) Channel() events.ChannelConfig {
	return events.ChannelConfig{
		Persistent:    c.Persistent,
		BlockUntilAck: c.BlockUntilAck,
		OutputBuffer:  c.OutputBuffer,
	}
}

// Events converts the NATS section.
func (c NATSConfig) Events() events.NATSConfig {
	return events.NATSConfig{
		URL:                  c.URL,
		MaxReconnects:        c.MaxReconnects,
		ReconnectWait:        c.ReconnectWait,
		ReconnectBuffer:      c.ReconnectBuffer,
		AutoProvision:        c.AutoProvision,
		TrackMsgID:           c.TrackMsgID,
		PublishRetryAttempts: c.PublishRetryAttempts,
		PublishRetryWait:     c.PublishRetryWait,
	}
}

// Logging converts the log section.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format, Caller: c.Caller}
}
