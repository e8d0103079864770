package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ChannelConfig configures the in process sink.
type ChannelConfig struct {
	// Persistent keeps every message so late subscribers receive history.
	// Replayed history arrives in no particular order.
	Persistent bool
	// BlockUntilAck makes Publish wait until every live subscriber acked
	// the message, which delivers a topic in publish order. Subscribers
	// must keep acking or publishers stall.
	BlockUntilAck bool
	OutputBuffer  int64
}

// DefaultChannelConfig returns a persistent, ordered sink with a small
// buffer.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{Persistent: true, BlockUntilAck: true, OutputBuffer: 64}
}

// NewChannelPublisher returns a publisher backed by a watermill gochannel.
// The gochannel is returned too so callers can subscribe to it.
func NewChannelPublisher(cfg Config, sink ChannelConfig, logger watermill.LoggerAdapter) (*WatermillPublisher, *gochannel.GoChannel) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            sink.OutputBuffer,
		Persistent:                     sink.Persistent,
		BlockPublishUntilSubscriberAck: sink.BlockUntilAck,
	}, logger)
	return NewPublisher(ch, cfg, logger), ch
}
