package events

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker guarding publish calls.
type BreakerConfig struct {
	// Disabled turns the breaker off.
	Disabled bool
	Name     string
	// MaxRequests is the number of trial calls allowed while half open.
	MaxRequests uint32
	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// FailureThreshold is the count of consecutive failures that opens it.
	FailureThreshold uint32
	// OnStateChange is notified after every transition, in addition to the
	// publisher's own log line.
	OnStateChange func(name, from, to string) `koanf:"-"`
}

// DefaultBreakerConfig returns the breaker settings used by the service.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "todo-events",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

func newBreaker(cfg BreakerConfig, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker[any] {
	if cfg.Disabled {
		return nil
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: onChange,
	})
}
