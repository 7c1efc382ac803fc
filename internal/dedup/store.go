// Package dedup records which bus events the poller has already processed, so
// that a redelivered queue message can be acknowledged without running the
// processor twice.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	statusProcessing = "processing"
	statusDone       = "done"
	statusFailed     = "failed"
)

var ErrUnknownBackend = errors.New("dedup: unknown backend")

type Entry struct {
	EventID    string
	DetailType string
	Source     string
}

type Store interface {
	// Begin registers an attempt. It returns false when the event was already
	// processed and the processor must be skipped.
	Begin(ctx context.Context, e Entry) (bool, error)
	Done(ctx context.Context, eventID string) error
	Failed(ctx context.Context, eventID string, cause error) error
}

type Backend string

const (
	BackendNone     Backend = "none"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendNone:
		return BackendNone, nil
	case BackendPostgres, BackendRedis:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
