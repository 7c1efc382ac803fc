// Package cdc holds the wire shapes that travel between the stream router and the
// queue poller, together with explicit decoders that validate them.
package cdc

import "encoding/json"

// Source is the provenance block of a Debezium change event.
type Source struct {
	Version   string
	Connector string
	Name      string
	TsMs      int64
	Snapshot  *string
	DB        string
	Schema    string
	Table     string
	TxID      *int64
	LSN       *int64
	Xmin      *int64
}

// Payload carries the before/after row images. Either image may be nil:
// inserts have no Before, deletes have no After.
type Payload struct {
	Before      map[string]any
	After       map[string]any
	Source      Source
	Op          string
	TsMs        int64
	Transaction json.RawMessage
}

// ChangeEvent is the Debezium {schema, payload} document placed in the bus envelope detail.
type ChangeEvent struct {
	Schema  map[string]any
	Payload Payload
}

// BusEnvelope is the outer event-bus wrapper as delivered to queue subscribers.
type BusEnvelope struct {
	Version    string          `json:"version"`
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Account    string          `json:"account"`
	Time       string          `json:"time"`
	Region     string          `json:"region"`
	Resources  []any           `json:"resources"`
	Detail     json.RawMessage `json:"detail"`
}

// MarshalJSON emits the wire spelling and never writes a null resources list.
func (e BusEnvelope) MarshalJSON() ([]byte, error) {
	type alias BusEnvelope
	out := alias(e)
	if out.Resources == nil {
		out.Resources = []any{}
	}
	if len(out.Detail) == 0 {
		out.Detail = json.RawMessage("{}")
	}
	return json.Marshal(out)
}

// RawQueueMessage mirrors a queue delivery before validation. Pointer fields
// distinguish an absent attribute from an empty one.
type RawQueueMessage struct {
	MessageID     *string
	ReceiptHandle *string
	Body          *string
}

type QueueMessage struct {
	ID            string
	ReceiptHandle string
	Body          string
}
