// Package router turns CDC log records into bus entries: it decodes each record,
// resolves the stream's route and applies the transform hook.
package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/k1networth/cdc-relay/internal/cdc"
)

// Record is one log entry. Data is the decoded record body; SourceLocator is the
// origin ARN, e.g. "arn:aws:kinesis:us-east-2:111122223333:stream/kinesis.inventory.products".
type Record struct {
	SourceLocator string
	Data          []byte
}

// Entry is a single bus publish request.
type Entry struct {
	Source       string
	DetailType   string
	Detail       string
	EventBusName string
	// Time is the router clock at assembly, not the change's event time.
	Time time.Time
}

// Transform rewrites a decoded payload before it is published. It must not do I/O.
type Transform func(payload any) (any, error)

func Identity(payload any) (any, error) { return payload, nil }

type Router struct {
	table     Table
	transform Transform
	now       func() time.Time
}

type Option func(*Router)

func WithTransform(fn Transform) Option {
	return func(r *Router) {
		if fn != nil {
			r.transform = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func New(table Table, opts ...Option) *Router {
	r := &Router{
		table:     table,
		transform: Identity,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route builds one entry per record in input order. Any failing record fails the
// whole batch and no entries are returned.
func (r *Router) Route(records []Record) ([]Entry, error) {
	out := make([]Entry, 0, len(records))
	for i, rec := range records {
		e, err := r.entry(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Router) entry(rec Record) (Entry, error) {
	payload, err := decodePayload(rec.Data)
	if err != nil {
		return Entry{}, err
	}

	stream, ok := StreamID(rec.SourceLocator)
	if !ok {
		return Entry{}, &UnmappedStreamError{Locator: rec.SourceLocator}
	}
	route, ok := r.table.Lookup(stream)
	if !ok {
		return Entry{}, &UnmappedStreamError{StreamID: stream, Locator: rec.SourceLocator}
	}

	transformed, err := r.transform(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("transform: %w", err)
	}
	detail, err := json.Marshal(transformed)
	if err != nil {
		return Entry{}, fmt.Errorf("encode detail: %w", err)
	}

	return Entry{
		Source:       stream,
		DetailType:   route.DetailType,
		Detail:       string(detail),
		EventBusName: route.BusName,
		Time:         r.now(),
	}, nil
}

// StreamID extracts the stream name from a source ARN: the segment after the
// first "/".
func StreamID(locator string) (string, bool) {
	parts := strings.Split(locator, "/")
	if len(parts) < 2 {
		return "", false
	}
	id := strings.TrimSpace(parts[1])
	return id, id != ""
}

func decodePayload(data []byte) (any, error) {
	if !utf8.Valid(data) {
		return nil, &cdc.SchemaValidationError{Field: "data", Reason: "record body is not valid UTF-8"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, &cdc.SchemaValidationError{Field: "data", Reason: "record body is not valid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &cdc.SchemaValidationError{Field: "data", Reason: "trailing data after JSON document"}
	}
	return payload, nil
}
