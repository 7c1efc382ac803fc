// Package publish submits a routed batch to the event bus in a single call and
// turns any rejected entry into a failure of the whole batch.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/k1networth/cdc-relay/internal/router"
)

var ErrEmptyBatch = errors.New("publish: empty batch")

// Bus is a bus-publish client. Entries in the result line up with the input.
type Bus interface {
	PutEntries(ctx context.Context, entries []router.Entry) (Result, error)
}

type Result struct {
	FailedCount int
	Entries     []EntryResult
}

// EntryResult confirms one entry (EventID set) or rejects it (ErrorCode set).
type EntryResult struct {
	EventID      string
	ErrorCode    string
	ErrorMessage string
}

func (r EntryResult) Failed() bool { return r.ErrorCode != "" }

type Publisher struct {
	bus     Bus
	log     *slog.Logger
	metrics *Metrics
}

func NewPublisher(bus Bus, log *slog.Logger, metrics *Metrics) *Publisher {
	return &Publisher{bus: bus, log: log, metrics: metrics}
}

// Publish sends the whole batch in one bus call. It fails with
// *PartialPublishError when the bus rejects any entry, even if the rest were accepted.
func (p *Publisher) Publish(ctx context.Context, entries []router.Entry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, ErrEmptyBatch
	}
	bus := entries[0].EventBusName

	p.log.Info("bus_publish", slog.String("bus", bus), slog.Int("entries", len(entries)))

	start := time.Now()
	res, err := p.bus.PutEntries(ctx, entries)
	p.metrics.observe(bus, time.Since(start))
	if err != nil {
		p.log.Error("bus_publish_failed", slog.String("bus", bus), slog.String("err", err.Error()))
		return Result{}, fmt.Errorf("put entries to %s: %w", bus, err)
	}

	p.log.Info("bus_response",
		slog.String("bus", bus),
		slog.Int("failed_entry_count", res.FailedCount),
		slog.Int("entries", len(res.Entries)),
	)

	if res.FailedCount == 0 {
		p.metrics.published(entries)
		return res, nil
	}

	perr := newPartialPublishError(entries, res)
	p.metrics.failed(perr.Failed)
	p.metrics.published(accepted(entries, res))
	p.log.Error("bus_publish_partial_failure",
		slog.String("bus", bus),
		slog.Int("failed_entry_count", res.FailedCount),
		slog.String("err", perr.Error()),
	)
	return res, perr
}

func accepted(entries []router.Entry, res Result) []router.Entry {
	out := make([]router.Entry, 0, len(entries))
	for i, e := range entries {
		if i < len(res.Entries) && res.Entries[i].Failed() {
			continue
		}
		out = append(out, e)
	}
	return out
}
