package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready within timeout")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestNATSPublisher_JetStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping JetStream round trip in short mode")
	}
	url := startEmbeddedNATS(t)

	nc := DefaultNATSConfig()
	nc.URL = url
	pub, err := NewNATSPublisher(DefaultConfig(), nc, watermill.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		AckWaitTimeout:   5 * time.Second,
		CloseTimeout:     5 * time.Second,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: "events-test",
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverAll(),
				natsgo.AckExplicit(),
			},
		},
	}, watermill.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sub.Close() })

	// publishing first provisions the stream
	if err := pub.Publish(context.Background(), Envelope{Type: TodoRestored, Payload: DeletedPayload{ID: "9"}, Key: "9"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msgs, err := sub.Subscribe(ctx, DefaultTopic)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		env, err := Decode(msg)
		if err != nil {
			t.Fatal(err)
		}
		if env.Type != TodoRestored || env.Key != "9" {
			t.Errorf("unexpected envelope %+v", env)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for JetStream message")
	}
}
