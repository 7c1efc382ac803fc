package cdc

import "fmt"

// SchemaValidationError reports a payload that does not match its declared shape.
// Field is a dotted path such as "detail.payload.source.db".
type SchemaValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %s: %s", e.Field, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

func missingField(field string) error {
	return &SchemaValidationError{Field: field, Reason: "required field is missing or null"}
}
