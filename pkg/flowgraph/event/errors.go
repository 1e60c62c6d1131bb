package event

import (
	"errors"
	"fmt"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// EventError describes a failure to publish or handle an event.
type EventError struct {
	Event   Event
	Message string
	Err     error
}

func (e *EventError) Error() string {
	id := "<nil>"
	if e.Event != nil {
		id = e.Event.ID()
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", id, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", id, e.Message)
}

func (e *EventError) Unwrap() error {
	return e.Err
}
