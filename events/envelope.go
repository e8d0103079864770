package events

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/goliatone/go-todo-pipeline/todo"
)

// Type names a state transition.
type Type string

const (
	TodoCreated      Type = "TODO_CREATED"
	TodoUpdated      Type = "TODO_UPDATED"
	TodoDeleted      Type = "TODO_DELETED"
	TodoRestored     Type = "TODO_RESTORED"
	TodosBulkUpdated Type = "TODOS_BULK_UPDATED"
)

// Metadata keys set on every message.
const (
	MetadataPartitionKey = "partition_key"
	MetadataEventType    = "event_type"
)

// Envelope is the unit published to the event log. Key selects the
// partition and is carried in message metadata only.
type Envelope struct {
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"-"`
}

// DeletedPayload is the payload of TODO_DELETED.
type DeletedPayload struct {
	ID string `json:"id"`
}

// BulkUpdatedPayload is the payload of TODOS_BULK_UPDATED.
type BulkUpdatedPayload struct {
	IDs           []string       `json:"ids"`
	Patch         todo.BulkPatch `json:"patch"`
	ModifiedCount int64          `json:"modifiedCount"`
}

// wireEnvelope is the decoded form with the payload left raw.
type wireEnvelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Marshal encodes the envelope body.
func Marshal(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("marshal envelope: missing type")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", env.Type, err)
	}
	return data, nil
}

// Decode turns a published message back into an Envelope. The payload is
// returned as json.RawMessage; use DecodePayload to bind it.
func Decode(msg *message.Message) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope %s: %w", msg.UUID, err)
	}
	return Envelope{
		Type:      wire.Type,
		Payload:   wire.Payload,
		Timestamp: wire.Timestamp,
		Key:       msg.Metadata.Get(MetadataPartitionKey),
	}, nil
}

// DecodePayload unmarshals a decoded envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	raw, ok := e.Payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("decode payload %s: %w", e.Type, err)
		}
		raw = data
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload %s: %w", e.Type, err)
	}
	return nil
}
