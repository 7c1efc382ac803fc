// Package relay handles one stream-router invocation: a batch of Kinesis
// records is routed and published as a single bus call.
package relay

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/k1networth/cdc-relay/internal/publish"
	"github.com/k1networth/cdc-relay/internal/router"
)

type Publisher interface {
	Publish(ctx context.Context, entries []router.Entry) (publish.Result, error)
}

type Handler struct {
	router *router.Router
	pub    Publisher
	log    *slog.Logger
}

func NewHandler(r *router.Router, pub Publisher, log *slog.Logger) *Handler {
	return &Handler{router: r, pub: pub, log: log}
}

// Handle returns an error when any record cannot be routed or any entry is
// rejected by the bus. The trigger then retries the whole batch.
func (h *Handler) Handle(ctx context.Context, ev events.KinesisEvent) error {
	log := h.log
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.With(slog.String("request_id", lc.AwsRequestID))
	}

	log.Info("relay_invocation", slog.Int("records", len(ev.Records)))
	if len(ev.Records) == 0 {
		return nil
	}
	for _, r := range ev.Records {
		log.Debug("relay_record",
			slog.String("event_id", r.EventID),
			slog.String("source_arn", r.EventSourceArn),
			slog.String("partition_key", r.Kinesis.PartitionKey),
			slog.String("sequence_number", r.Kinesis.SequenceNumber),
		)
	}

	entries, err := h.router.Route(Records(ev))
	if err != nil {
		log.Error("relay_route_failed", slog.String("err", err.Error()))
		return err
	}

	res, err := h.pub.Publish(ctx, entries)
	if err != nil {
		log.Error("relay_invocation_failed", slog.String("err", err.Error()))
		return err
	}

	log.Info("relay_invocation_done",
		slog.Int("entries", len(entries)),
		slog.Int("failed_entry_count", res.FailedCount),
	)
	return nil
}

// Records maps Kinesis records to router records. Data is already base64-decoded
// by the events package.
func Records(ev events.KinesisEvent) []router.Record {
	out := make([]router.Record, 0, len(ev.Records))
	for _, r := range ev.Records {
		out = append(out, router.Record{SourceLocator: r.EventSourceArn, Data: r.Kinesis.Data})
	}
	return out
}
