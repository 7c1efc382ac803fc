package bus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/k1networth/cdc-relay/internal/publish"
	"github.com/k1networth/cdc-relay/internal/router"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsPublishFailed = "NatsPublishFailed"

type JetStreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes each entry to "<bus>.<DetailType>" on JetStream. The message
// id is derived from the entry content (see MsgID), not from the envelope id,
// so a retried invocation within the stream's duplicate window is dropped by
// the server.
type NATS struct {
	js  JetStreamPublisher
	env Enveloper
}

func NewNATS(js JetStreamPublisher, env Enveloper) *NATS {
	return &NATS{js: js, env: env}
}

func (b *NATS) PutEntries(ctx context.Context, entries []router.Entry) (publish.Result, error) {
	res := publish.Result{Entries: make([]publish.EntryResult, len(entries))}
	for i, e := range entries {
		env, data, err := b.env.Wrap(e)
		if err != nil {
			return publish.Result{}, err
		}
		msg := &nats.Msg{
			Subject: Subject(e.EventBusName, e.DetailType),
			Data:    data,
			Header:  nats.Header{},
		}
		msg.Header.Set("detail-type", e.DetailType)
		msg.Header.Set("source", e.Source)
		msg.Header.Set(nats.MsgIdHdr, MsgID(e))

		_, err = b.js.PublishMsg(ctx, msg)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, nats.ErrConnectionClosed) {
				return publish.Result{}, err
			}
			res.FailedCount++
			res.Entries[i] = publish.EntryResult{ErrorCode: natsPublishFailed, ErrorMessage: err.Error()}
			continue
		}
		res.Entries[i] = publish.EntryResult{EventID: env.ID}
	}
	return res, nil
}

// MsgID is the hex SHA-256 of the entry's bus, detail type, source and detail.
// Entry.Time is left out: it is the router clock and changes between retries.
func MsgID(e router.Entry) string {
	h := sha256.New()
	for _, part := range []string{e.EventBusName, e.DetailType, e.Source, e.Detail} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func Subject(bus, detailType string) string {
	return bus + "." + detailType
}

// EnsureStreams creates (or updates) one stream per bus capturing "<bus>.>".
func EnsureStreams(ctx context.Context, js jetstream.StreamManager, buses []string) error {
	for _, bus := range buses {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      StreamName(bus),
			Subjects:  []string{bus + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
		})
		if err != nil {
			return fmt.Errorf("ensure stream for bus %s: %w", bus, err)
		}
	}
	return nil
}

// StreamName maps a bus name to a valid JetStream stream name.
func StreamName(bus string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_")
	return strings.ToUpper(r.Replace(bus))
}
