package flowgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge or interrupt references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")

	// ErrInterruptWithoutEdge indicates an interrupt node has nowhere to resume to.
	ErrInterruptWithoutEdge = errors.New("interrupt node has no outgoing edge")
)

// Sentinel errors for execution.
var (
	ErrMaxIterations        = errors.New("exceeded maximum iterations")
	ErrNilContext           = errors.New("context cannot be nil")
	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
)

// Sentinel errors for checkpointing and resume.
var (
	// ErrRunIDRequired indicates checkpointing was enabled without a run ID.
	ErrRunIDRequired = errors.New("run ID required for checkpointing")

	// ErrDeserializeState indicates a checkpointed state could not be decoded.
	ErrDeserializeState = errors.New("failed to deserialize state")

	// ErrNoCheckpoints indicates no checkpoints exist for the run.
	ErrNoCheckpoints = errors.New("no checkpoints found for run")

	// ErrNotInterrupted indicates the latest checkpoint of a run is not an
	// interrupt, so there is nothing waiting for external input.
	ErrNotInterrupted = errors.New("run is not interrupted")

	// ErrInvalidResumeNode indicates the resume node doesn't exist in the graph.
	ErrInvalidResumeNode = errors.New("invalid resume node")

	// ErrCheckpointVersionMismatch indicates the checkpoint version is incompatible.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	NodeID string
	// Op is one of "serialize", "marshal", "save", "consume".
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an error returned by a node with the node it came from.
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures a recovered panic from node execution.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports that the run's context ended before the next
// node could start. State holds the last completed state.
type CancellationError struct {
	NodeID       string
	State        any
	Cause        error
	WasExecuting bool
}

func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError reports an invalid result from a conditional edge.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// MaxIterationsError is returned when a run exceeds its node budget.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// lastNodeOf extracts the node an execution error is attributed to.
func lastNodeOf(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		maxErr    *MaxIterationsError
		cancelErr *CancellationError
		routerErr *RouterError
		cpErr     *CheckpointError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}
