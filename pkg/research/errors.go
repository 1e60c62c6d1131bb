package research

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrNoPendingInterrupt is the cause of an InvalidResumeError when the
	// session is not suspended.
	ErrNoPendingInterrupt = errors.New("no pending interrupt")

	// ErrCorrelationMismatch is the cause of an InvalidResumeError when the
	// response does not answer the pending tool call.
	ErrCorrelationMismatch = errors.New("tool call correlation mismatch")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionSuspended is returned by Send while the session awaits a
	// human response.
	ErrSessionSuspended = errors.New("session is awaiting human input")

	// ErrToolTimeout is the cause of a tool round that exceeded its deadline.
	ErrToolTimeout = errors.New("tool call timed out")
)

// ValidationError reports a malformed resume payload or proposal.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UnknownToolError reports a tool call naming no registered tool. It is
// fatal to the round.
type UnknownToolError struct {
	Name   string
	CallID string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q (call %s)", e.Name, e.CallID)
}

// Unwrap returns nil; UnknownToolError has no cause.
func (e *UnknownToolError) Unwrap() error {
	return nil
}

// ToolExecutionError reports a single failed tool call. It is recovered
// locally: its text becomes the call's Tool message.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// OracleCallError reports a failed decision call. The session stays in
// Deciding with its transcript unchanged.
type OracleCallError struct {
	Err error
}

func (e *OracleCallError) Error() string {
	return fmt.Sprintf("decision call failed: %v", e.Err)
}

func (e *OracleCallError) Unwrap() error {
	return e.Err
}

// InvalidResumeError reports a resume that cannot be applied. Err is
// ErrNoPendingInterrupt or ErrCorrelationMismatch.
type InvalidResumeError struct {
	SessionID string
	Expected  string
	Got       string
	Err       error
}

func (e *InvalidResumeError) Error() string {
	if errors.Is(e.Err, ErrCorrelationMismatch) {
		return fmt.Sprintf("invalid resume of session %s: expected response to call %q, got %q",
			e.SessionID, e.Expected, e.Got)
	}
	return fmt.Sprintf("invalid resume of session %s: %v", e.SessionID, e.Err)
}

func (e *InvalidResumeError) Unwrap() error {
	return e.Err
}
