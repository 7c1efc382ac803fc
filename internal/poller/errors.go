package poller

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPolicy = errors.New("poller: unknown failure policy")

type Stage string

const (
	StageMessage  Stage = "message"
	StageEnvelope Stage = "envelope"
	StageDetail   Stage = "detail"
)

// MalformedMessageError reports a delivery that failed decoding or validation.
// MessageID is empty when the delivery carried no id.
type MalformedMessageError struct {
	MessageID string
	Stage     Stage
	Err       error
}

func (e *MalformedMessageError) Error() string {
	id := e.MessageID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("malformed message %s (%s): %v", id, e.Stage, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

type FailurePolicy string

const (
	// PolicyAbort stops Run at the first failed message.
	PolicyAbort FailurePolicy = "abort"
	// PolicyIsolate logs the failure, leaves the message unacknowledged and keeps polling.
	PolicyIsolate FailurePolicy = "isolate"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyIsolate, nil
	case PolicyAbort, PolicyIsolate:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}
