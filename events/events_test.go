package events

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/goliatone/go-todo-pipeline/todo"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// publishAsync runs publish in a goroutine. The channel sink blocks until
// the subscriber acks, so the caller must receive before waiting on the
// returned channel.
func publishAsync(publish func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- publish() }()
	return done
}

func wait(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish to return")
	}
}

func TestChannelPublisher_PublishAndDecode(t *testing.T) {
	pub, ch := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)
	t.Cleanup(func() { _ = pub.Close() })

	msgs, err := ch.Subscribe(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := todo.Todo{ID: "42", Title: "Draft release notes", Version: 1, Tags: []string{}}
	done := publishAsync(func() error {
		return pub.Publish(context.Background(), Envelope{Type: TodoCreated, Payload: record, Timestamp: ts, Key: "42"})
	})

	msg := receive(t, msgs)
	wait(t, done)
	if msg.Metadata.Get(MetadataPartitionKey) != "42" {
		t.Errorf("expected partition key metadata, got %v", msg.Metadata)
	}
	if msg.Metadata.Get(MetadataEventType) != string(TodoCreated) {
		t.Errorf("expected event type metadata, got %v", msg.Metadata)
	}
	if msg.Metadata.Get(natsgo.MsgIdHdr) != msg.UUID {
		t.Errorf("expected Nats-Msg-Id to equal message uuid")
	}

	env, err := Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TodoCreated || env.Key != "42" || !env.Timestamp.Equal(ts) {
		t.Errorf("unexpected envelope %+v", env)
	}

	var got todo.Todo
	if err := env.DecodePayload(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "42" || got.Title != "Draft release notes" || got.Version != 1 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestEnvelopeKeyIsNotSerialized(t *testing.T) {
	data, err := Marshal(Envelope{Type: TodoDeleted, Payload: DeletedPayload{ID: "7"}, Key: "7"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"TODO_DELETED","payload":{"id":"7"},"timestamp":"0001-01-01T00:00:00Z"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	if _, err := Marshal(Envelope{}); err == nil {
		t.Error("expected an error for an envelope without type")
	}
}

func TestPublishBatch(t *testing.T) {
	pub, ch := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)
	t.Cleanup(func() { _ = pub.Close() })

	msgs, err := ch.Subscribe(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatal(err)
	}

	batch := []Envelope{
		{Type: TodosBulkUpdated, Payload: BulkUpdatedPayload{IDs: []string{"1", "2"}, ModifiedCount: 2}},
		{Type: TodoUpdated, Payload: map[string]string{"id": "3"}, Key: "3"},
	}
	done := publishAsync(func() error { return pub.PublishBatch(context.Background(), batch) })

	first, err := Decode(receive(t, msgs))
	if err != nil {
		t.Fatal(err)
	}
	var bulk BulkUpdatedPayload
	if err := first.DecodePayload(&bulk); err != nil {
		t.Fatal(err)
	}
	if bulk.ModifiedCount != 2 || len(bulk.IDs) != 2 {
		t.Errorf("unexpected bulk payload %+v", bulk)
	}

	second, err := Decode(receive(t, msgs))
	if err != nil {
		t.Fatal(err)
	}
	if second.Type != TodoUpdated || second.Key != "3" {
		t.Errorf("unexpected second envelope %+v", second)
	}
	wait(t, done)

	if err := pub.PublishBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
}

func TestChannelPublisher_PreservesOrder(t *testing.T) {
	pub, ch := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)
	t.Cleanup(func() { _ = pub.Close() })

	msgs, err := ch.Subscribe(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatal(err)
	}

	const n = 50
	done := publishAsync(func() error {
		for i := range n {
			id := strconv.Itoa(i)
			if err := pub.Publish(context.Background(), Envelope{Type: TodoUpdated, Payload: DeletedPayload{ID: id}, Key: id}); err != nil {
				return err
			}
		}
		return nil
	})

	for i := range n {
		env, err := Decode(receive(t, msgs))
		if err != nil {
			t.Fatal(err)
		}
		if want := strconv.Itoa(i); env.Key != want {
			t.Fatalf("message %d: expected key %s, got %s", i, want, env.Key)
		}
	}
	wait(t, done)
}

func TestChannelPublisher_NoSubscriberDoesNotBlock(t *testing.T) {
	pub, _ := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)
	t.Cleanup(func() { _ = pub.Close() })

	wait(t, publishAsync(func() error {
		return pub.Publish(context.Background(), Envelope{Type: TodoCreated, Payload: DeletedPayload{ID: "1"}, Key: "1"})
	}))
}

func TestChannelPublisher_CloseReleasesBlockedPublish(t *testing.T) {
	pub, ch := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)

	if _, err := ch.Subscribe(context.Background(), DefaultTopic); err != nil {
		t.Fatal(err)
	}
	done := publishAsync(func() error {
		return pub.Publish(context.Background(), Envelope{Type: TodoCreated, Payload: DeletedPayload{ID: "1"}, Key: "1"})
	})

	select {
	case err := <-done:
		t.Fatalf("publish returned before the subscriber acked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not release the blocked publish")
	}
}

func TestPublisherClosed(t *testing.T) {
	pub, _ := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	err := pub.Publish(context.Background(), Envelope{Type: TodoCreated})
	if !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	pub, _ := NewChannelPublisher(DefaultConfig(), DefaultChannelConfig(), nil)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, Envelope{Type: TodoCreated}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// failingPublisher is a message.Publisher that always fails.
type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(topic string, msgs ...*message.Message) error {
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingPublisher) Close() error { return nil }

func TestCircuitBreakerOpens(t *testing.T) {
	sink := &failingPublisher{}
	cfg := DefaultConfig()
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.Timeout = time.Hour
	pub := NewPublisher(sink, cfg, nil)

	for range 2 {
		if err := pub.Publish(context.Background(), Envelope{Type: TodoCreated}); err == nil {
			t.Fatal("expected publish failure")
		}
	}
	if pub.BreakerState() != "open" {
		t.Fatalf("expected open breaker, got %s", pub.BreakerState())
	}

	if err := pub.Publish(context.Background(), Envelope{Type: TodoCreated}); err == nil {
		t.Fatal("expected breaker rejection")
	}
	if sink.calls != 2 {
		t.Errorf("open breaker must not reach the sink, got %d calls", sink.calls)
	}
}

func TestBreakerDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker.Disabled = true
	pub := NewPublisher(&failingPublisher{}, cfg, nil)
	if pub.BreakerState() != "disabled" {
		t.Errorf("expected disabled breaker, got %s", pub.BreakerState())
	}
}
