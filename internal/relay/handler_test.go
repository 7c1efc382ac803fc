package relay_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/k1networth/cdc-relay/internal/publish"
	"github.com/k1networth/cdc-relay/internal/relay"
	"github.com/k1networth/cdc-relay/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	h := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h).With(slog.String("app", "test"), slog.String("env", "test"))
}

type fakeBus struct {
	calls [][]router.Entry
	res   publish.Result
	err   error
}

func (b *fakeBus) PutEntries(_ context.Context, entries []router.Entry) (publish.Result, error) {
	b.calls = append(b.calls, entries)
	return b.res, b.err
}

const arnPrefix = "arn:aws:kinesis:us-east-2:111122223333:stream/"

func record(stream, data string) events.KinesisEventRecord {
	return events.KinesisEventRecord{
		EventSourceArn: arnPrefix + stream,
		Kinesis:        events.KinesisRecord{Data: []byte(data), PartitionKey: "pk", SequenceNumber: "1"},
	}
}

func newHandler(t *testing.T, bus publish.Bus) *relay.Handler {
	t.Helper()
	table, err := router.NewTable(router.ReferenceRoutes("products-bus", "customers-bus"))
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	r := router.New(table, router.WithClock(now))
	return relay.NewHandler(r, publish.NewPublisher(bus, testLogger(), nil), testLogger())
}

func twoStreams() events.KinesisEvent {
	return events.KinesisEvent{Records: []events.KinesisEventRecord{
		record(router.ProductsStream, `{"payload":{"op":"u","after":{"id":1}}}`),
		record(router.CustomersStream, `{"payload":{"op":"c","after":{"id":2}}}`),
	}}
}

func TestHandlePublishesOneBatch(t *testing.T) {
	bus := &fakeBus{res: publish.Result{Entries: []publish.EntryResult{{EventID: "a"}, {EventID: "b"}}}}
	h := newHandler(t, bus)

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})
	require.NoError(t, h.Handle(ctx, twoStreams()))

	require.Len(t, bus.calls, 1)
	got := bus.calls[0]
	require.Len(t, got, 2)
	assert.Equal(t, "ProductDataChangeEvent", got[0].DetailType)
	assert.Equal(t, "products-bus", got[0].EventBusName)
	assert.Equal(t, "CustomerDataChangeEvent", got[1].DetailType)
	assert.Equal(t, "customers-bus", got[1].EventBusName)
	assert.JSONEq(t, `{"payload":{"op":"c","after":{"id":2}}}`, got[1].Detail)
}

func TestHandleFailsWhenSecondEntryRejected(t *testing.T) {
	bus := &fakeBus{res: publish.Result{
		FailedCount: 1,
		Entries: []publish.EntryResult{
			{EventID: "a"},
			{ErrorCode: "InternalFailure", ErrorMessage: "internal error"},
		},
	}}
	h := newHandler(t, bus)

	err := h.Handle(context.Background(), twoStreams())
	require.Error(t, err)

	var perr *publish.PartialPublishError
	require.True(t, errors.As(err, &perr))
	require.Len(t, perr.Failed, 1)
	assert.Equal(t, 1, perr.Failed[0].Index)
	assert.Equal(t, "CustomerDataChangeEvent", perr.Failed[0].Entry.DetailType)
}

func TestHandleUnmappedStreamPublishesNothing(t *testing.T) {
	bus := &fakeBus{}
	h := newHandler(t, bus)

	ev := twoStreams()
	ev.Records = append(ev.Records, record("kinesis.inventory.orders", `{}`))

	err := h.Handle(context.Background(), ev)
	var uerr *router.UnmappedStreamError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "kinesis.inventory.orders", uerr.StreamID)
	assert.Empty(t, bus.calls)
}

func TestHandleEmptyBatchIsNoop(t *testing.T) {
	bus := &fakeBus{}
	require.NoError(t, newHandler(t, bus).Handle(context.Background(), events.KinesisEvent{}))
	assert.Empty(t, bus.calls)
}

func TestHandleTransportError(t *testing.T) {
	sentinel := errors.New("AccessDeniedException")
	err := newHandler(t, &fakeBus{err: sentinel}).Handle(context.Background(), twoStreams())
	require.ErrorIs(t, err, sentinel)
}

func TestRecordsKeepsOrderAndLocator(t *testing.T) {
	recs := relay.Records(twoStreams())
	require.Len(t, recs, 2)
	assert.Equal(t, arnPrefix+router.ProductsStream, recs[0].SourceLocator)
	assert.Equal(t, `{"payload":{"op":"c","after":{"id":2}}}`, string(recs[1].Data))
}
