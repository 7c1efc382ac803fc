package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/k1networth/cdc-relay/internal/cdc"
	"github.com/segmentio/kafka-go"
)

var ErrUnknownReceipt = errors.New("queue: unknown receipt handle")

type KafkaConsumer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// reopener is implemented by consumers that can rebuild their reader after a
// broken connection.
type reopener interface {
	Reopen()
}

// DefaultMaxInflight bounds the fetched but uncommitted messages held per partition.
const DefaultMaxInflight = 1000

// Kafka reads a consumer-group topic through the receive/delete contract.
//
// Kafka commits offsets, not single messages, so Delete only commits the longest
// run of acknowledged messages at the head of each partition. A message that is
// never acknowledged holds back the commit for its partition. Once it has been
// outstanding for ReceiveOptions.VisibilityTimeout, or its partition holds
// MaxInflight messages, the next Receive drops all inflight state and reopens
// the reader, so the group redelivers from the committed offsets.
type Kafka struct {
	c           KafkaConsumer
	topic       string
	now         func() time.Time
	maxInflight int

	mu    sync.Mutex
	parts map[int]*inflight
}

type inflight struct {
	order []int64
	msgs  map[int64]kafka.Message
	at    map[int64]time.Time
	acked map[int64]bool
}

type KafkaOption func(*Kafka)

func WithKafkaClock(now func() time.Time) KafkaOption {
	return func(q *Kafka) {
		if now != nil {
			q.now = now
		}
	}
}

func WithMaxInflight(n int) KafkaOption {
	return func(q *Kafka) {
		if n > 0 {
			q.maxInflight = n
		}
	}
}

func NewKafka(c KafkaConsumer, topic string, opts ...KafkaOption) *Kafka {
	q := &Kafka{
		c:           c,
		topic:       topic,
		now:         time.Now,
		maxInflight: DefaultMaxInflight,
		parts:       make(map[int]*inflight),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Kafka) Name() string { return "kafka://" + q.topic }

func (q *Kafka) Receive(ctx context.Context, opts ReceiveOptions) ([]cdc.RawQueueMessage, error) {
	wait := opts.WaitTime
	if wait <= 0 {
		wait = time.Second
	}
	limit := max(opts.MaxMessages, 1)

	if q.expire(opts.VisibilityTimeout) {
		if r, ok := q.c.(reopener); ok {
			r.Reopen()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	out := make([]cdc.RawQueueMessage, 0, limit)
	for len(out) < limit {
		m, err := q.c.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(out) > 0 {
				break
			}
			if r, ok := q.c.(reopener); ok {
				r.Reopen()
			}
			return nil, err
		}
		q.track(m)

		id := fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
		handle := receiptHandle(m.Partition, m.Offset)
		body := string(m.Value)
		out = append(out, cdc.RawQueueMessage{MessageID: &id, ReceiptHandle: &handle, Body: &body})
	}
	return out, nil
}

func (q *Kafka) Delete(ctx context.Context, handle string) error {
	part, off, err := parseReceiptHandle(handle)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	fl := q.parts[part]
	if fl == nil {
		return ErrUnknownReceipt
	}
	if _, ok := fl.msgs[off]; !ok {
		return ErrUnknownReceipt
	}
	fl.acked[off] = true

	n := 0
	for _, o := range fl.order {
		if !fl.acked[o] {
			break
		}
		n++
	}
	if n == 0 {
		return nil
	}

	last := fl.msgs[fl.order[n-1]]
	for _, o := range fl.order[:n] {
		delete(fl.msgs, o)
		delete(fl.at, o)
		delete(fl.acked, o)
	}
	fl.order = fl.order[n:]

	return q.c.CommitMessages(ctx, last)
}

func (q *Kafka) track(m kafka.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fl := q.parts[m.Partition]
	if fl == nil {
		fl = &inflight{
			msgs:  make(map[int64]kafka.Message),
			at:    make(map[int64]time.Time),
			acked: make(map[int64]bool),
		}
		q.parts[m.Partition] = fl
	}
	if _, seen := fl.msgs[m.Offset]; seen {
		return
	}
	fl.order = append(fl.order, m.Offset)
	fl.msgs[m.Offset] = m
	fl.at[m.Offset] = q.now()
}

// expire reports whether some partition's head outlived the visibility timeout
// or the partition reached maxInflight. In that case every partition's state is
// dropped: a reopened reader redelivers everything past the committed offsets.
func (q *Kafka) expire(visibility time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	stale := false
	for _, fl := range q.parts {
		if len(fl.order) == 0 {
			continue
		}
		if len(fl.order) >= q.maxInflight {
			stale = true
			break
		}
		if visibility > 0 && now.Sub(fl.at[fl.order[0]]) >= visibility {
			stale = true
			break
		}
	}
	if stale {
		q.parts = make(map[int]*inflight)
	}
	return stale
}

func receiptHandle(partition int, offset int64) string {
	return fmt.Sprintf("%d:%d", partition, offset)
}

func parseReceiptHandle(h string) (int, int64, error) {
	var part int
	var off int64
	if _, err := fmt.Sscanf(h, "%d:%d", &part, &off); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownReceipt, h)
	}
	return part, off, nil
}
