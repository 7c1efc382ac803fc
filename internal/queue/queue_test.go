package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/k1networth/cdc-relay/internal/queue"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	recv    *sqs.ReceiveMessageInput
	deleted []string
	msgs    []types.Message
	err     error
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.recv = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSReceiveClampsAndMaps(t *testing.T) {
	api := &fakeSQS{msgs: []types.Message{
		{MessageId: aws.String("m1"), ReceiptHandle: aws.String("r1"), Body: aws.String("{}")},
		{MessageId: aws.String("m2")},
	}}
	q := queue.NewSQS(api, "https://sqs.eu-west-1.amazonaws.com/1/cdc")

	got, err := q.Receive(context.Background(), queue.ReceiveOptions{
		MaxMessages:       50,
		WaitTime:          30 * time.Second,
		VisibilityTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(10), api.recv.MaxNumberOfMessages)
	assert.Equal(t, int32(20), api.recv.WaitTimeSeconds)
	assert.Equal(t, int32(10), api.recv.VisibilityTimeout)
	assert.Equal(t, []string{"All"}, api.recv.MessageAttributeNames)

	require.Len(t, got, 2)
	assert.Equal(t, "r1", aws.ToString(got[0].ReceiptHandle))
	assert.Nil(t, got[1].ReceiptHandle, "absent attributes stay absent")
	assert.Nil(t, got[1].Body)
}

func TestSQSReceiveAtLeastOne(t *testing.T) {
	api := &fakeSQS{}
	_, err := queue.NewSQS(api, "q").Receive(context.Background(), queue.ReceiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.recv.MaxNumberOfMessages)
	assert.Equal(t, int32(0), api.recv.WaitTimeSeconds)
}

func TestSQSDelete(t *testing.T) {
	api := &fakeSQS{}
	q := queue.NewSQS(api, "q")
	require.NoError(t, q.Delete(context.Background(), "r1"))
	assert.Equal(t, []string{"r1"}, api.deleted)

	api.err = errors.New("ReceiptHandleIsInvalid")
	require.Error(t, q.Delete(context.Background(), "r2"))
}

type fakeConsumer struct {
	pending   []kafka.Message
	committed []kafka.Message
}

func (f *fakeConsumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.pending) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.pending[0]
	f.pending = f.pending[1:]
	return m, nil
}

func (f *fakeConsumer) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "cdc.events", Partition: partition, Offset: offset, Value: []byte(`{"id":1}`)}
}

func TestKafkaReceiveStopsAtWaitTime(t *testing.T) {
	c := &fakeConsumer{pending: []kafka.Message{msg(0, 4), msg(1, 9)}}
	q := queue.NewKafka(c, "cdc.events")

	got, err := q.Receive(context.Background(), queue.ReceiveOptions{MaxMessages: 10, WaitTime: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cdc.events/0/4", aws.ToString(got[0].MessageID))
	assert.Equal(t, "1:9", aws.ToString(got[1].ReceiptHandle))
	assert.Equal(t, `{"id":1}`, aws.ToString(got[0].Body))
}

func TestKafkaReceiveHonoursMaxMessages(t *testing.T) {
	c := &fakeConsumer{pending: []kafka.Message{msg(0, 0), msg(0, 1), msg(0, 2)}}
	q := queue.NewKafka(c, "cdc.events")

	got, err := q.Receive(context.Background(), queue.ReceiveOptions{MaxMessages: 2, WaitTime: time.Second})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, c.pending, 1)
}

func TestKafkaReceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := queue.NewKafka(&fakeConsumer{}, "t").Receive(ctx, queue.ReceiveOptions{WaitTime: time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestKafkaDeleteCommitsContiguousPrefix(t *testing.T) {
	c := &fakeConsumer{pending: []kafka.Message{msg(0, 10), msg(0, 11), msg(0, 12)}}
	q := queue.NewKafka(c, "cdc.events")
	ctx := context.Background()

	_, err := q.Receive(ctx, queue.ReceiveOptions{MaxMessages: 3, WaitTime: time.Second})
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, "0:11"))
	assert.Empty(t, c.committed, "offset 10 is still unacknowledged")

	require.NoError(t, q.Delete(ctx, "0:10"))
	require.Len(t, c.committed, 1)
	assert.Equal(t, int64(11), c.committed[0].Offset)

	require.NoError(t, q.Delete(ctx, "0:12"))
	require.Len(t, c.committed, 2)
	assert.Equal(t, int64(12), c.committed[1].Offset)
}

func TestKafkaDeleteUnknownHandle(t *testing.T) {
	q := queue.NewKafka(&fakeConsumer{}, "t")
	require.ErrorIs(t, q.Delete(context.Background(), "0:1"), queue.ErrUnknownReceipt)
	require.ErrorIs(t, q.Delete(context.Background(), "garbage"), queue.ErrUnknownReceipt)
}

type brokenConsumer struct {
	fakeConsumer
	reopened int
}

func (b *brokenConsumer) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("unexpected EOF")
}

func (b *brokenConsumer) Reopen() { b.reopened++ }

func TestKafkaReceiveReopensBrokenReader(t *testing.T) {
	c := &brokenConsumer{}
	_, err := queue.NewKafka(c, "t").Receive(context.Background(), queue.ReceiveOptions{WaitTime: time.Second})
	require.Error(t, err)
	assert.Equal(t, 1, c.reopened)
}

// rewindConsumer redelivers everything past the last commit when reopened.
type rewindConsumer struct {
	fakeConsumer
	all      []kafka.Message
	reopened int
}

func (r *rewindConsumer) Reopen() {
	r.reopened++
	r.pending = nil
	var next int64
	if n := len(r.committed); n > 0 {
		next = r.committed[n-1].Offset + 1
	}
	for _, m := range r.all {
		if m.Offset >= next {
			r.pending = append(r.pending, m)
		}
	}
}

func newRewind(msgs ...kafka.Message) *rewindConsumer {
	return &rewindConsumer{fakeConsumer: fakeConsumer{pending: msgs}, all: msgs}
}

func TestKafkaUnackedHeadExpiresAfterVisibilityTimeout(t *testing.T) {
	c := newRewind(msg(0, 0), msg(0, 1))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := queue.NewKafka(c, "cdc.events", queue.WithKafkaClock(func() time.Time { return now }))
	ctx := context.Background()
	opts := queue.ReceiveOptions{MaxMessages: 2, WaitTime: 20 * time.Millisecond, VisibilityTimeout: 10 * time.Second}

	got, err := q.Receive(ctx, opts)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NoError(t, q.Delete(ctx, "0:1"))
	assert.Empty(t, c.committed)

	now = now.Add(5 * time.Second)
	got, err = q.Receive(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, c.reopened, "head is still within the visibility timeout")

	now = now.Add(6 * time.Second)
	got, err = q.Receive(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, c.reopened)
	require.Len(t, got, 2, "both uncommitted offsets are redelivered")
	assert.Equal(t, "0:0", aws.ToString(got[0].ReceiptHandle))

	require.NoError(t, q.Delete(ctx, "0:1"))
	require.NoError(t, q.Delete(ctx, "0:0"))
	require.Len(t, c.committed, 1)
	assert.Equal(t, int64(1), c.committed[0].Offset)
}

func TestKafkaInflightIsCappedPerPartition(t *testing.T) {
	c := newRewind(msg(0, 0), msg(0, 1), msg(0, 2), msg(0, 3))
	q := queue.NewKafka(c, "cdc.events", queue.WithMaxInflight(3))
	ctx := context.Background()
	opts := queue.ReceiveOptions{MaxMessages: 3, WaitTime: 20 * time.Millisecond}

	got, err := q.Receive(ctx, opts)
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = q.Receive(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, c.reopened)
	require.Len(t, got, 3)
	assert.Equal(t, "0:0", aws.ToString(got[0].ReceiptHandle), "redelivered from the committed offset")
	assert.Empty(t, c.committed)
}

func TestKafkaStaleReceiptAfterExpiryIsUnknown(t *testing.T) {
	c := &fakeConsumer{pending: []kafka.Message{msg(0, 0), msg(0, 1)}}
	q := queue.NewKafka(c, "cdc.events", queue.WithMaxInflight(1))
	ctx := context.Background()
	opts := queue.ReceiveOptions{MaxMessages: 1, WaitTime: 20 * time.Millisecond}

	_, err := q.Receive(ctx, opts)
	require.NoError(t, err)
	_, err = q.Receive(ctx, opts)
	require.NoError(t, err)

	require.ErrorIs(t, q.Delete(ctx, "0:0"), queue.ErrUnknownReceipt)
	require.NoError(t, q.Delete(ctx, "0:1"))
	require.Len(t, c.committed, 1)
}
