// Package queue adapts durable queues to the receive/delete contract used by the
// poller. Delete is the acknowledgment: a message that is never deleted is
// delivered again.
package queue

import (
	"context"
	"time"

	"github.com/k1networth/cdc-relay/internal/cdc"
)

type ReceiveOptions struct {
	MaxMessages       int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

type Client interface {
	// Receive long-polls for up to opts.WaitTime. An empty result is not an error.
	Receive(ctx context.Context, opts ReceiveOptions) ([]cdc.RawQueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
	// Name identifies the queue in logs.
	Name() string
}
