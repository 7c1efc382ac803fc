// Package bus holds publish.Bus implementations. EventBridge wraps entries in its
// own envelope; the Kafka and NATS backends build the same envelope themselves so
// queue consumers see one format regardless of transport.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/k1networth/cdc-relay/internal/cdc"
	"github.com/k1networth/cdc-relay/internal/router"
)

const envelopeVersion = "0"

type Enveloper struct {
	Account string
	Region  string
	NewID   func() string
}

func (e Enveloper) Wrap(entry router.Entry) (cdc.BusEnvelope, []byte, error) {
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	ts := entry.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	env := cdc.BusEnvelope{
		Version:    envelopeVersion,
		ID:         newID(),
		DetailType: entry.DetailType,
		Source:     entry.Source,
		Account:    e.Account,
		Time:       ts.UTC().Format(time.RFC3339),
		Region:     e.Region,
		Resources:  []any{},
		Detail:     json.RawMessage(entry.Detail),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return cdc.BusEnvelope{}, nil, fmt.Errorf("encode envelope: %w", err)
	}
	return env, data, nil
}
