// Package events publishes todo state transitions to a durable log.
//
// Every envelope goes to one topic. The mutated record id travels in the
// partition_key metadata entry so brokers and consumers can keep per
// record ordering, and each message id doubles as the Nats-Msg-Id header
// for broker side de-duplication of retried sends.
//
// Two sinks are provided:
//
//   - channel: watermill gochannel, in process, used for development and tests
//   - nats: watermill-nats over JetStream
//
// Delivery is at least once. Consumers must treat envelopes idempotently.
package events
