package cdc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

type wireSource struct {
	Version   *string `json:"version"`
	Connector *string `json:"connector"`
	Name      *string `json:"name"`
	TsMs      *int64  `json:"ts_ms"`
	Snapshot  *string `json:"snapshot"`
	DB        *string `json:"db"`
	Schema    *string `json:"schema"`
	Table     *string `json:"table"`
	TxID      *int64  `json:"txId"`
	LSN       *int64  `json:"lsn"`
	Xmin      *int64  `json:"xmin"`
}

type wirePayload struct {
	Before      map[string]any  `json:"before"`
	After       map[string]any  `json:"after"`
	Source      *wireSource     `json:"source"`
	Op          *string         `json:"op"`
	TsMs        *int64          `json:"ts_ms"`
	Transaction json.RawMessage `json:"transaction"`
}

type wireChangeEvent struct {
	Schema  map[string]any `json:"schema"`
	Payload *wirePayload   `json:"payload"`
}

type wireEnvelope struct {
	Version    *string         `json:"version"`
	ID         *string         `json:"id"`
	DetailType *string         `json:"detail-type"`
	Source     *string         `json:"source"`
	Account    *string         `json:"account"`
	Time       *string         `json:"time"`
	Region     *string         `json:"region"`
	Resources  []any           `json:"resources"`
	Detail     json.RawMessage `json:"detail"`
}

// DecodeQueueMessage checks that a delivery carries an id, a receipt handle and a body.
func DecodeQueueMessage(raw RawQueueMessage) (QueueMessage, error) {
	c := checker{}
	c.require("MessageId", raw.MessageID != nil)
	c.require("ReceiptHandle", raw.ReceiptHandle != nil)
	c.require("Body", raw.Body != nil)
	if c.err != nil {
		return QueueMessage{}, c.err
	}
	return QueueMessage{
		ID:            *raw.MessageID,
		ReceiptHandle: *raw.ReceiptHandle,
		Body:          *raw.Body,
	}, nil
}

// DecodeBusEnvelope decodes a queue message body into the event-bus envelope.
// The detail is kept raw; use DecodeDetail to validate it.
func DecodeBusEnvelope(data []byte) (BusEnvelope, error) {
	var w wireEnvelope
	if err := decodeObject(data, &w, ""); err != nil {
		return BusEnvelope{}, err
	}

	c := checker{}
	c.require("version", w.Version != nil)
	c.require("id", w.ID != nil)
	c.require("detail-type", w.DetailType != nil)
	c.require("source", w.Source != nil)
	c.require("account", w.Account != nil)
	c.require("time", w.Time != nil)
	c.require("region", w.Region != nil)
	c.require("resources", w.Resources != nil)
	c.require("detail", !isNull(w.Detail))
	if c.err != nil {
		return BusEnvelope{}, c.err
	}

	return BusEnvelope{
		Version:    *w.Version,
		ID:         *w.ID,
		DetailType: *w.DetailType,
		Source:     *w.Source,
		Account:    *w.Account,
		Time:       *w.Time,
		Region:     *w.Region,
		Resources:  w.Resources,
		Detail:     w.Detail,
	}, nil
}

// DecodeDetail validates the envelope detail as a change event. Field paths in
// errors are prefixed with "detail".
func DecodeDetail(env BusEnvelope) (ChangeEvent, error) {
	return decodeChangeEvent(env.Detail, "detail")
}

// DecodeChangeEvent validates a standalone Debezium {schema, payload} document.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	return decodeChangeEvent(data, "")
}

func decodeChangeEvent(data []byte, prefix string) (ChangeEvent, error) {
	var w wireChangeEvent
	if err := decodeObject(data, &w, prefix); err != nil {
		return ChangeEvent{}, err
	}

	c := checker{prefix: prefix}
	c.require("schema", w.Schema != nil)
	c.require("payload", w.Payload != nil)
	if c.err != nil {
		return ChangeEvent{}, c.err
	}

	p := w.Payload
	c.prefix = join(prefix, "payload")
	c.require("source", p.Source != nil)
	c.require("op", p.Op != nil)
	c.require("ts_ms", p.TsMs != nil)
	if c.err != nil {
		return ChangeEvent{}, c.err
	}
	if utf8.RuneCountInString(*p.Op) != 1 {
		return ChangeEvent{}, &SchemaValidationError{
			Field:  join(c.prefix, "op"),
			Reason: fmt.Sprintf("expected a single-character change code, got %q", *p.Op),
		}
	}

	s := p.Source
	c.prefix = join(prefix, "payload.source")
	c.require("version", s.Version != nil)
	c.require("connector", s.Connector != nil)
	c.require("name", s.Name != nil)
	c.require("ts_ms", s.TsMs != nil)
	c.require("db", s.DB != nil)
	c.require("schema", s.Schema != nil)
	c.require("table", s.Table != nil)
	if c.err != nil {
		return ChangeEvent{}, c.err
	}

	var tx json.RawMessage
	if !isNull(p.Transaction) {
		tx = p.Transaction
	}

	return ChangeEvent{
		Schema: w.Schema,
		Payload: Payload{
			Before: p.Before,
			After:  p.After,
			Source: Source{
				Version:   *s.Version,
				Connector: *s.Connector,
				Name:      *s.Name,
				TsMs:      *s.TsMs,
				Snapshot:  s.Snapshot,
				DB:        *s.DB,
				Schema:    *s.Schema,
				Table:     *s.Table,
				TxID:      s.TxID,
				LSN:       s.LSN,
				Xmin:      s.Xmin,
			},
			Op:          *p.Op,
			TsMs:        *p.TsMs,
			Transaction: tx,
		},
	}, nil
}

// decodeObject fills the json-tagged fields of the struct v points to from a
// JSON object. Keys must match their tags exactly, including case; nested
// struct pointers are decoded the same way. Type mismatches become
// SchemaValidationError with the full field path.
func decodeObject(data []byte, v any, prefix string) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &SchemaValidationError{Field: orRoot(prefix), Reason: "expected a JSON object"}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return &SchemaValidationError{Field: orRoot(prefix), Reason: "malformed JSON", Err: err}
	}

	rv := reflect.ValueOf(v).Elem()
	rt := rv.Type()
	for i := range rt.NumField() {
		key, _, _ := strings.Cut(rt.Field(i).Tag.Get("json"), ",")
		raw, ok := fields[key]
		if !ok || key == "" || key == "-" {
			continue
		}
		path := join(prefix, key)
		f := rv.Field(i)

		if ft := f.Type(); ft.Kind() == reflect.Pointer && ft.Elem().Kind() == reflect.Struct {
			if isNull(raw) {
				continue
			}
			nested := reflect.New(ft.Elem())
			if err := decodeObject(raw, nested.Interface(), path); err != nil {
				return err
			}
			f.Set(nested)
			continue
		}

		if err := json.Unmarshal(raw, f.Addr().Interface()); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return &SchemaValidationError{
					Field:  join(path, typeErr.Field),
					Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
					Err:    err,
				}
			}
			return &SchemaValidationError{Field: path, Reason: "malformed JSON", Err: err}
		}
	}
	return nil
}

type checker struct {
	prefix string
	err    error
}

func (c *checker) require(field string, present bool) {
	if c.err == nil && !present {
		c.err = missingField(join(c.prefix, field))
	}
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func join(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	default:
		return prefix + "." + field
	}
}

func orRoot(field string) string {
	if field == "" {
		return "$"
	}
	return field
}
