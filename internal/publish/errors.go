package publish

import (
	"fmt"
	"strings"

	"github.com/k1networth/cdc-relay/internal/router"
)

type FailedEntry struct {
	Index        int
	Entry        router.Entry
	ErrorCode    string
	ErrorMessage string
}

// PartialPublishError lists every entry the bus rejected in one publish call.
type PartialPublishError struct {
	FailedCount int
	Failed      []FailedEntry
}

func newPartialPublishError(entries []router.Entry, res Result) *PartialPublishError {
	e := &PartialPublishError{FailedCount: res.FailedCount}
	for i, r := range res.Entries {
		if !r.Failed() {
			continue
		}
		fe := FailedEntry{Index: i, ErrorCode: r.ErrorCode, ErrorMessage: r.ErrorMessage}
		if i < len(entries) {
			fe.Entry = entries[i]
		}
		e.Failed = append(e.Failed, fe)
	}
	return e
}

func (e *PartialPublishError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to put events: %d entries rejected", e.FailedCount)
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "; entry %d (%s/%s): %s", f.Index, f.Entry.EventBusName, f.Entry.DetailType, f.ErrorCode)
		if f.ErrorMessage != "" {
			fmt.Fprintf(&b, " %s", f.ErrorMessage)
		}
	}
	return b.String()
}
