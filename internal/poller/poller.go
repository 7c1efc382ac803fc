// Package poller consumes routed bus events from a queue with at-least-once
// delivery. A message is deleted only after it was decoded, validated and
// processed without error; anything else leaves it for redelivery.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/k1networth/cdc-relay/internal/cdc"
	"github.com/k1networth/cdc-relay/internal/dedup"
	"github.com/k1networth/cdc-relay/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Event is a fully validated delivery handed to the Processor.
type Event struct {
	Message  cdc.QueueMessage
	Envelope cdc.BusEnvelope
	Change   cdc.ChangeEvent
}

type Processor interface {
	Process(ctx context.Context, ev Event) error
}

type ProcessorFunc func(ctx context.Context, ev Event) error

func (f ProcessorFunc) Process(ctx context.Context, ev Event) error { return f(ctx, ev) }

type Options struct {
	Receive       queue.ReceiveOptions
	Workers       int
	FailurePolicy FailurePolicy
	ErrorBackoff  time.Duration
}

type Option func(*Poller)

func WithProcessor(p Processor) Option { return func(pl *Poller) { pl.proc = p } }

// WithStore enables skipping events that an earlier delivery already processed.
func WithStore(s dedup.Store) Option { return func(pl *Poller) { pl.store = s } }

func WithMetrics(m *Metrics) Option { return func(pl *Poller) { pl.metrics = m } }

type Poller struct {
	q       queue.Client
	log     *slog.Logger
	opts    Options
	proc    Processor
	store   dedup.Store
	metrics *Metrics
}

func New(q queue.Client, log *slog.Logger, opts Options, fns ...Option) *Poller {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = PolicyIsolate
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	p := &Poller{
		q:    q,
		log:  log,
		opts: opts,
		proc: ProcessorFunc(func(context.Context, Event) error { return nil }),
	}
	for _, fn := range fns {
		fn(p)
	}
	return p
}

// Run polls until ctx is cancelled, then returns nil. Under PolicyAbort the
// first failed message or receive call ends Run with that error.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller_start",
		slog.String("queue", p.q.Name()),
		slog.String("failure_policy", string(p.opts.FailurePolicy)),
		slog.Int("workers", p.opts.Workers),
	)

	for {
		if ctx.Err() != nil {
			p.log.Info("poller_shutdown")
			return nil
		}
		if err := p.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				p.log.Info("poller_shutdown")
				return nil
			}
			p.log.Error("poller_abort", slog.String("err", err.Error()))
			return err
		}
	}
}

func (p *Poller) cycle(ctx context.Context) error {
	p.metrics.cycle()

	msgs, err := p.q.Receive(ctx, p.opts.Receive)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.metrics.receiveError()
		p.log.Error("queue_receive_failed", slog.String("queue", p.q.Name()), slog.String("err", err.Error()))
		if p.opts.FailurePolicy == PolicyAbort {
			return fmt.Errorf("receive from %s: %w", p.q.Name(), err)
		}
		sleep(ctx, p.opts.ErrorBackoff)
		return nil
	}
	if len(msgs) == 0 {
		return nil
	}
	p.metrics.received(len(msgs))
	p.log.Debug("queue_received", slog.Int("messages", len(msgs)))

	if p.opts.Workers == 1 {
		for _, m := range msgs {
			if ctx.Err() != nil {
				return nil
			}
			if err := p.handle(ctx, m); err != nil && p.fatal() {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, m := range msgs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.handle(gctx, m); err != nil && p.fatal() {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) fatal() bool { return p.opts.FailurePolicy == PolicyAbort }

// handle drives one delivery through decode, validation, processing and delete.
// Any error means the message was not deleted.
func (p *Poller) handle(ctx context.Context, raw cdc.RawQueueMessage) error {
	msg, err := cdc.DecodeQueueMessage(raw)
	if err != nil {
		return p.malformed(messageID(raw), StageMessage, err)
	}
	env, err := cdc.DecodeBusEnvelope([]byte(msg.Body))
	if err != nil {
		return p.malformed(msg.ID, StageEnvelope, err)
	}
	change, err := cdc.DecodeDetail(env)
	if err != nil {
		return p.malformed(msg.ID, StageDetail, err)
	}

	log := p.log.With(
		slog.String("message_id", msg.ID),
		slog.String("event_id", env.ID),
		slog.String("detail_type", env.DetailType),
	)
	log.Info("event_received",
		slog.String("source", env.Source),
		slog.String("op", change.Payload.Op),
		slog.String("table", change.Payload.Source.Table),
	)
	log.Info("event_before", slog.Any("before", change.Payload.Before))
	log.Info("event_after", slog.Any("after", change.Payload.After))

	status, err := p.process(ctx, log, Event{Message: msg, Envelope: env, Change: change})
	p.metrics.processed(env.DetailType, status)
	if err != nil {
		log.Error("event_process_failed", slog.String("err", err.Error()))
		return err
	}

	if err := p.q.Delete(ctx, msg.ReceiptHandle); err != nil {
		p.metrics.deleteError()
		log.Error("message_delete_failed", slog.String("err", err.Error()))
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	p.metrics.deleted()
	log.Info("message_deleted")
	return nil
}

func (p *Poller) process(ctx context.Context, log *slog.Logger, ev Event) (string, error) {
	if p.store == nil {
		if err := p.proc.Process(ctx, ev); err != nil {
			return "error", err
		}
		return "ok", nil
	}

	id := ev.Envelope.ID
	proceed, err := p.store.Begin(ctx, dedup.Entry{
		EventID:    id,
		DetailType: ev.Envelope.DetailType,
		Source:     ev.Envelope.Source,
	})
	if err != nil {
		return "error", fmt.Errorf("dedup begin %s: %w", id, err)
	}
	if !proceed {
		log.Info("event_skip_done")
		return "skipped", nil
	}

	if err := p.proc.Process(ctx, ev); err != nil {
		if ferr := p.store.Failed(ctx, id, err); ferr != nil {
			log.Warn("dedup_mark_failed_failed", slog.String("err", ferr.Error()))
		}
		return "error", err
	}
	if err := p.store.Done(ctx, id); err != nil {
		if ferr := p.store.Failed(ctx, id, err); ferr != nil {
			log.Warn("dedup_mark_failed_failed", slog.String("err", ferr.Error()))
		}
		return "error", fmt.Errorf("dedup done %s: %w", id, err)
	}
	return "ok", nil
}

func (p *Poller) malformed(id string, stage Stage, err error) error {
	p.metrics.malformed(stage)
	merr := &MalformedMessageError{MessageID: id, Stage: stage, Err: err}
	p.log.Error("message_malformed",
		slog.String("message_id", id),
		slog.String("stage", string(stage)),
		slog.String("err", err.Error()),
	)
	return merr
}

func messageID(raw cdc.RawQueueMessage) string {
	if raw.MessageID == nil {
		return ""
	}
	return *raw.MessageID
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
