package router

import "fmt"

// UnmappedStreamError is returned when a record comes from a stream that has no route.
type UnmappedStreamError struct {
	StreamID string
	Locator  string
}

func (e *UnmappedStreamError) Error() string {
	if e.StreamID == "" {
		return fmt.Sprintf("no stream id in source locator %q", e.Locator)
	}
	return fmt.Sprintf("no route for stream %q", e.StreamID)
}
