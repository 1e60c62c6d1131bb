package flowgraph

import (
	"errors"
	"fmt"
	"time"
)

// ErrInterrupted is matched by every *InterruptError.
var ErrInterrupted = errors.New("run interrupted")

// InterruptError is returned by Run and Resume when execution stops at an
// interrupt node. It is not a failure: the returned state is the state the
// interrupt node produced, and the run continues through Resume.
type InterruptError struct {
	RunID string
	// NodeID is the interrupt node that just ran.
	NodeID string
	// NextNode is where Resume continues.
	NextNode string
	// PendingKey is the correlation key reported by the state, if it
	// implements Awaiter.
	PendingKey string
	Since      time.Time
	// Checkpointed is false when the run had no checkpoint store.
	Checkpointed bool
}

func (e *InterruptError) Error() string {
	if e.PendingKey != "" {
		return fmt.Sprintf("run %s interrupted at %s awaiting %s", e.RunID, e.NodeID, e.PendingKey)
	}
	return fmt.Sprintf("run %s interrupted at %s", e.RunID, e.NodeID)
}

func (e *InterruptError) Unwrap() error {
	return ErrInterrupted
}

// AsInterrupt reports whether err is an interrupt and returns it.
func AsInterrupt(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// Awaiter is implemented by state types that can name what an interrupt is
// waiting for (for example, a pending tool-call id). The key is stored on
// the interrupt checkpoint so callers can correlate the resume input
// without decoding the state.
type Awaiter interface {
	AwaitingKey() string
}

func awaitingKey(state any) string {
	if a, ok := state.(Awaiter); ok {
		return a.AwaitingKey()
	}
	return ""
}
