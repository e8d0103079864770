package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultTopic is the topic every envelope is published to.
const DefaultTopic = "todo-events"

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("events: publisher is closed")

// Publisher publishes envelopes synchronously. A nil error means the sink
// accepted every envelope.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	PublishBatch(ctx context.Context, envs []Envelope) error
	Close() error
}

// Config configures a WatermillPublisher.
type Config struct {
	Topic   string
	Breaker BreakerConfig
}

// DefaultConfig returns the default topic and breaker settings.
func DefaultConfig() Config {
	return Config{Topic: DefaultTopic, Breaker: DefaultBreakerConfig()}
}

// WatermillPublisher adapts a watermill message.Publisher to Publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
	breaker   *gobreaker.CircuitBreaker[any]
	logger    watermill.LoggerAdapter

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Publisher = (*WatermillPublisher)(nil)

// NewPublisher wraps pub. The caller hands ownership of pub to the
// returned publisher; Close closes it.
func NewPublisher(pub message.Publisher, cfg Config, logger watermill.LoggerAdapter) *WatermillPublisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	p := &WatermillPublisher{
		publisher: pub,
		topic:     cfg.Topic,
		logger:    logger.With(watermill.LogFields{"topic": cfg.Topic}),
	}
	p.breaker = newBreaker(cfg.Breaker, func(name string, from, to gobreaker.State) {
		p.logger.Info("Publish circuit breaker state changed", watermill.LogFields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
		if cfg.Breaker.OnStateChange != nil {
			cfg.Breaker.OnStateChange(name, from.String(), to.String())
		}
	})
	return p
}

// Topic returns the topic envelopes are published to.
func (p *WatermillPublisher) Topic() string {
	return p.topic
}

// BreakerState reports the circuit breaker state, "disabled" without one.
func (p *WatermillPublisher) BreakerState() string {
	if p.breaker == nil {
		return "disabled"
	}
	return p.breaker.State().String()
}

// Publish implements Publisher.
func (p *WatermillPublisher) Publish(ctx context.Context, env Envelope) error {
	return p.PublishBatch(ctx, []Envelope{env})
}

// PublishBatch implements Publisher. All envelopes go out in a single
// publisher call so a sink that supports it can write them together.
func (p *WatermillPublisher) PublishBatch(ctx context.Context, envs []Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if len(envs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*message.Message, 0, len(envs))
	for _, env := range envs {
		msg, err := p.newMessage(ctx, env)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	publish := func() (any, error) {
		return nil, p.publisher.Publish(p.topic, msgs...)
	}

	var err error
	if p.breaker != nil {
		_, err = p.breaker.Execute(publish)
	} else {
		_, err = publish()
	}
	if err != nil {
		return fmt.Errorf("publish %d event(s) to %s: %w", len(msgs), p.topic, err)
	}

	for _, msg := range msgs {
		p.logger.Trace("Event published", watermill.LogFields{
			"message_uuid": msg.UUID,
			"event_type":   msg.Metadata.Get(MetadataEventType),
			"key":          msg.Metadata.Get(MetadataPartitionKey),
		})
	}
	return nil
}

func (p *WatermillPublisher) newMessage(ctx context.Context, env Envelope) (*message.Message, error) {
	data, err := Marshal(env)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetadataEventType, string(env.Type))
	if env.Key != "" {
		msg.Metadata.Set(MetadataPartitionKey, env.Key)
	}
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.SetContext(ctx)
	return msg, nil
}

// Close closes the underlying publisher. It is safe to call more than once
// and releases publishes still waiting on the sink.
func (p *WatermillPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.publisher.Close()
	})
	return p.closeErr
}
