// Package di wires the service together from a config.Config. Every client
// handle is constructed here and handed to its consumers explicitly.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-todo-pipeline/cache"
	"github.com/goliatone/go-todo-pipeline/events"
	"github.com/goliatone/go-todo-pipeline/internal/cacheinfra"
	"github.com/goliatone/go-todo-pipeline/internal/config"
	"github.com/goliatone/go-todo-pipeline/internal/httpapi"
	"github.com/goliatone/go-todo-pipeline/internal/logging"
	"github.com/goliatone/go-todo-pipeline/internal/metrics"
	"github.com/goliatone/go-todo-pipeline/pipeline"
	"github.com/goliatone/go-todo-pipeline/store"
	"github.com/goliatone/go-todo-pipeline/store/bunstore"
	"github.com/goliatone/go-todo-pipeline/store/memstore"
	"github.com/goliatone/go-todo-pipeline/store/mongostore"
)

// Option overrides a component the container would otherwise build.
type Option func(*options)

type options struct {
	logger   *zerolog.Logger
	registry *prometheus.Registry
	store    store.Store
}

// WithLogger uses logger instead of one built from the log section.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithRegistry registers the collectors on reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithStore uses st instead of opening the configured driver. The
// container does not close a store passed this way.
func WithStore(st store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// Container holds the constructed components.
type Container struct {
	config    config.Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	store     store.Store
	cache     cache.CacheService
	publisher events.Publisher
	channel   *gochannel.GoChannel
	pipeline  *pipeline.Service
	server    *httpapi.Server

	closers []func() error
}

// NewContainer builds every component described by cfg. On failure the
// components opened so far are closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{config: cfg}
	if err := c.build(ctx, o); err != nil {
		if cerr := c.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("closing partially built container")
		}
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, o options) error {
	cfg := c.config
	var err error

	if o.logger != nil {
		c.logger = *o.logger
	} else if c.logger, err = logging.New(cfg.Log.Logging()); err != nil {
		return err
	}
	c.metrics = metrics.New(o.registry)

	if c.store, err = c.openStore(ctx, o.store); err != nil {
		return err
	}
	if cfg.Store.AutoMigrate {
		if err = c.Migrate(ctx); err != nil {
			return err
		}
	}

	if c.cache, err = cacheinfra.NewSturdycService(cfg.Cache.Sturdyc()); err != nil {
		return fmt.Errorf("di: cache: %w", err)
	}

	if c.publisher, err = c.openPublisher(); err != nil {
		return err
	}

	c.pipeline = pipeline.New(c.store, c.cache, c.publisher,
		pipeline.WithLogger(c.logger.With().Str("component", "pipeline").Logger()),
		pipeline.WithMetrics(c.metrics),
	)
	c.server = httpapi.New(c.pipeline, httpapi.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow,
	},
		httpapi.WithLogger(c.logger.With().Str("component", "http").Logger()),
		httpapi.WithMetrics(c.metrics),
	)
	return nil
}

func (c *Container) openStore(ctx context.Context, override store.Store) (store.Store, error) {
	if override != nil {
		return override, nil
	}

	logger := c.logger.With().Str("component", "store").Logger()
	var st store.Store
	switch c.config.Store.Driver {
	case config.DriverMemory:
		st = memstore.New()
	case config.DriverSQLite, config.DriverPostgres:
		s, err := bunstore.Open(ctx, c.config.Store.Bun(), bunstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("di: store: %w", err)
		}
		st = s
	case config.DriverMongo:
		s, err := mongostore.Open(ctx, c.config.Mongo.Store(), mongostore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("di: store: %w", err)
		}
		st = s
	default:
		return nil, fmt.Errorf("di: unsupported store driver %q", c.config.Store.Driver)
	}
	c.closers = append(c.closers, st.Close)
	return st, nil
}

func (c *Container) openPublisher() (events.Publisher, error) {
	pubCfg := c.config.Events.Publisher()
	pubCfg.Breaker.OnStateChange = c.metrics.BreakerStateChanged
	wmLogger := logging.NewWatermillAdapter(c.logger)

	var pub *events.WatermillPublisher
	switch c.config.Events.Sink {
	case config.SinkChannel:
		pub, c.channel = events.NewChannelPublisher(pubCfg, c.config.Events.Channel(), wmLogger)
	case config.SinkNATS:
		var err error
		if pub, err = events.NewNATSPublisher(pubCfg, c.config.NATS.Events(), wmLogger); err != nil {
			return nil, fmt.Errorf("di: events: %w", err)
		}
	default:
		return nil, fmt.Errorf("di: unsupported event sink %q", c.config.Events.Sink)
	}
	c.closers = append(c.closers, pub.Close)
	return pub, nil
}

// Migrate creates the store schema when the store supports it.
func (c *Container) Migrate(ctx context.Context) error {
	m, ok := c.store.(store.Migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("di: migrate: %w", err)
	}
	c.logger.Info().Str("driver", c.config.Store.Driver).Msg("store schema ready")
	return nil
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

// Logger returns the root logger.
func (c *Container) Logger() zerolog.Logger {
	return c.logger
}

// Metrics returns the Prometheus collectors.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Store returns the document store.
func (c *Container) Store() store.Store {
	return c.store
}

// CacheService returns the cache.
func (c *Container) CacheService() cache.CacheService {
	return c.cache
}

// Publisher returns the event publisher.
func (c *Container) Publisher() events.Publisher {
	return c.publisher
}

// Channel returns the in process event channel, or nil when events go to
// another sink. Subscribe to it to consume events inside the process.
func (c *Container) Channel() *gochannel.GoChannel {
	return c.channel
}

// Pipeline returns the mutation pipeline.
func (c *Container) Pipeline() *pipeline.Service {
	return c.pipeline
}

// Handler returns the HTTP handler.
func (c *Container) Handler() http.Handler {
	return c.server
}

// HTTPServer returns a server for the configured address and timeouts.
func (c *Container) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         c.config.Server.Addr(),
		Handler:      c.server,
		ReadTimeout:  c.config.Server.ReadTimeout,
		WriteTimeout: c.config.Server.WriteTimeout,
	}
}

// Close releases the publisher and the store, in reverse order of
// construction.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
