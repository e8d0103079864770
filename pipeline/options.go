package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-todo-pipeline/cache"
)

// DefaultInvalidationConcurrency bounds parallel entity key deletes during
// bulk updates.
const DefaultInvalidationConcurrency = 8

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the fallback logger. A logger attached to the request
// context with zerolog's WithContext takes precedence.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now. Stores receive the clock value as the
// mutation timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics sets the recorder notified about every operation.
func WithMetrics(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithKeySerializer replaces the serializer building listing keys.
func WithKeySerializer(ks cache.KeySerializer) Option {
	return func(s *Service) {
		if ks != nil {
			s.listKeys = ks
		}
	}
}

// WithInvalidationConcurrency bounds parallel cache deletes in BulkUpdate.
func WithInvalidationConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}
