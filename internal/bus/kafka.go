package bus

import (
	"context"
	"errors"
	"strings"

	"github.com/k1networth/cdc-relay/internal/publish"
	"github.com/k1networth/cdc-relay/internal/router"
	"github.com/segmentio/kafka-go"
)

const kafkaWriteFailed = "KafkaWriteFailed"

type KafkaWriter interface {
	WriteBatch(ctx context.Context, msgs []kafka.Message) error
}

// Kafka publishes each entry to the topic named after its bus, keyed by source
// stream so one stream stays on one partition.
type Kafka struct {
	w   KafkaWriter
	env Enveloper
}

func NewKafka(w KafkaWriter, env Enveloper) *Kafka {
	return &Kafka{w: w, env: env}
}

func (b *Kafka) PutEntries(ctx context.Context, entries []router.Entry) (publish.Result, error) {
	msgs := make([]kafka.Message, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		env, data, err := b.env.Wrap(e)
		if err != nil {
			return publish.Result{}, err
		}
		msgs = append(msgs, kafka.Message{
			Topic: e.EventBusName,
			Key:   []byte(e.Source),
			Value: data,
			Headers: []kafka.Header{
				{Key: "detail-type", Value: []byte(e.DetailType)},
				{Key: "event-id", Value: []byte(env.ID)},
			},
			Time: e.Time,
		})
		ids = append(ids, env.ID)
	}

	res := publish.Result{Entries: make([]publish.EntryResult, len(entries))}
	err := b.w.WriteBatch(ctx, msgs)
	if err == nil {
		for i, id := range ids {
			res.Entries[i] = publish.EntryResult{EventID: id}
		}
		return res, nil
	}

	var perMessage kafka.WriteErrors
	if !errors.As(err, &perMessage) || len(perMessage) != len(entries) {
		return publish.Result{}, err
	}
	for i, werr := range perMessage {
		if werr == nil {
			res.Entries[i] = publish.EntryResult{EventID: ids[i]}
			continue
		}
		res.FailedCount++
		res.Entries[i] = publish.EntryResult{ErrorCode: kafkaErrorCode(werr), ErrorMessage: werr.Error()}
	}
	return res, nil
}

func kafkaErrorCode(err error) string {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return strings.ReplaceAll(kerr.Title(), " ", "")
	}
	return kafkaWriteFailed
}
