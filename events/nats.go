package events

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
)

// NATSConfig configures the JetStream sink.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	// AutoProvision creates the stream for the topic when missing.
	AutoProvision bool
	// TrackMsgID sends Nats-Msg-Id so JetStream drops duplicate sends.
	TrackMsgID           bool
	PublishRetryAttempts int
	PublishRetryWait     time.Duration
}

// DefaultNATSConfig returns settings for a local NATS server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:                  natsgo.DefaultURL,
		MaxReconnects:        10,
		ReconnectWait:        2 * time.Second,
		ReconnectBuffer:      8 * 1024 * 1024,
		AutoProvision:        true,
		TrackMsgID:           true,
		PublishRetryAttempts: 3,
		PublishRetryWait:     100 * time.Millisecond,
	}
}

// NewNATSPublisher connects to NATS JetStream and returns a publisher for
// the configured topic.
func NewNATSPublisher(cfg Config, nc NATSConfig, logger watermill.LoggerAdapter) (*WatermillPublisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(nc.MaxReconnects),
		natsgo.ReconnectWait(nc.ReconnectWait),
		natsgo.ReconnectBufSize(nc.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(conn *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": conn.ConnectedUrl()})
		}),
	}

	var pubOpts []natsgo.PubOpt
	if nc.PublishRetryAttempts > 0 {
		pubOpts = append(pubOpts,
			natsgo.RetryAttempts(nc.PublishRetryAttempts),
			natsgo.RetryWait(nc.PublishRetryWait),
		)
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         nc.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:  nc.AutoProvision,
			TrackMsgId:     nc.TrackMsgID,
			PublishOptions: pubOpts,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	return NewPublisher(pub, cfg, logger), nil
}
