package config

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-todo-pipeline/internal/logging"
)

// Validate checks every section. Sections that the selected driver or
// sink does not use are still type checked but not required.
func (c Config) Validate() error {
	return validation.Errors{
		"server": c.Server.Validate(),
		"store":  c.Store.Validate(),
		"mongo":  c.Mongo.validateFor(c.Store.Driver),
		"cache":  c.Cache.Validate(),
		"events": c.Events.Validate(),
		"nats":   c.NATS.validateFor(c.Events.Sink),
		"log":    c.Log.Validate(),
	}.Filter()
}

// Validate checks the server section.
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ReadTimeout, validation.Min(0)),
		validation.Field(&c.WriteTimeout, validation.Min(0)),
		validation.Field(&c.ShutdownTimeout, validation.Required),
		validation.Field(&c.RateLimit, validation.Min(0)),
		validation.Field(&c.RateWindow, validation.When(c.RateLimit > 0, validation.Required)),
	)
}

// Validate checks the store section.
func (c StoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(DriverSQLite, DriverPostgres, DriverMongo, DriverMemory)),
		validation.Field(&c.DSN, validation.When(c.Driver == DriverSQLite || c.Driver == DriverPostgres, validation.Required)),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
	)
}

func (c MongoConfig) validateFor(driver string) error {
	required := driver == DriverMongo
	return validation.ValidateStruct(&c,
		validation.Field(&c.URI, validation.When(required, validation.Required)),
		validation.Field(&c.Database, validation.When(required, validation.Required)),
		validation.Field(&c.Collection, validation.When(required, validation.Required)),
	)
}

// Validate checks the cache section.
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EntityTTL, validation.Required),
		validation.Field(&c.ListTTL, validation.Required),
	)
}

// Validate checks the events section.
func (c EventsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Sink, validation.Required, validation.In(SinkChannel, SinkNATS)),
		validation.Field(&c.Topic, validation.Required),
		validation.Field(&c.OutputBuffer, validation.Min(int64(0))),
	)
}

func (c NATSConfig) validateFor(sink string) error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.When(sink == SinkNATS, validation.Required)),
		validation.Field(&c.MaxReconnects, validation.Min(-1)),
		validation.Field(&c.PublishRetryAttempts, validation.Min(0)),
	)
}

// Validate checks the log section.
func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.By(func(any) error {
			if _, err := logging.ParseLevel(c.Level); err != nil {
				return errors.New("must be trace, debug, info, warn, error or disabled")
			}
			return nil
		})),
		validation.Field(&c.Format, validation.Required, validation.In(logging.FormatJSON, logging.FormatConsole)),
	)
}
