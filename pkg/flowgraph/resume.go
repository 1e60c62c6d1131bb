package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
)

// Resume continues a run from its latest checkpoint.
//
// For an interrupt checkpoint, the external input is applied with
// WithStateUpdate. If the update fails, Resume returns its error and the
// checkpoint stays in place, so the run is still suspended. Otherwise the
// interrupt checkpoint is deleted before execution continues from the
// interrupt node's successor: a suspended run resumes at most once.
//
// For an ordinary checkpoint (crash recovery), execution continues from the
// checkpoint's next node, or re-runs the checkpointed node with
// WithReplayNode.
//
// Example:
//
//	result, err := compiled.Resume(ctx, store, "session-42",
//	    flowgraph.WithStateUpdate(func(s State) (State, error) {
//	        s.Messages = append(s.Messages, reply)
//	        return s, nil
//	    }))
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, runID string, opts ...ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	cp, state, err := cg.loadLatest(ctx, store, runID)
	if err != nil {
		return zero, err
	}

	if cfg.stateUpdate != nil {
		updated, err := cfg.stateUpdate(state)
		if err != nil {
			return state, fmt.Errorf("state update: %w", err)
		}
		state = updated.(S)
	}

	startNode := cp.NextNode
	if cfg.replayNode {
		startNode = cp.NodeID
	}
	if startNode != END && !cg.HasNode(startNode) {
		return state, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.run {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.runID = runID
	runCfg.sequence = cp.Sequence

	if cp.Interrupted {
		if err := store.Delete(ctx, runID, cp.NodeID); err != nil {
			return state, &CheckpointError{NodeID: cp.NodeID, Op: "consume", Err: err}
		}
	}

	return cg.execute(ctx, state, startNode, &runCfg)
}

// PendingInterrupt reports the interrupt a run is suspended at, together
// with the checkpointed state. It returns ErrNoCheckpoints if the run has
// no checkpoint and ErrNotInterrupted if its latest checkpoint is not an
// interrupt.
func (cg *CompiledGraph[S]) PendingInterrupt(ctx Context, store checkpoint.Store, runID string) (S, *InterruptError, error) {
	cp, state, err := cg.loadLatest(ctx, store, runID)
	if err != nil {
		return state, nil, err
	}
	if !cp.Interrupted {
		return state, nil, fmt.Errorf("%w: %s", ErrNotInterrupted, runID)
	}

	ie := &InterruptError{
		RunID:        runID,
		NodeID:       cp.NodeID,
		NextNode:     cp.NextNode,
		PendingKey:   cp.PendingCallID,
		Checkpointed: true,
	}
	if cp.AwaitingSince != nil {
		ie.Since = *cp.AwaitingSince
	}
	return state, ie, nil
}

// Discard removes every checkpoint of a run. A suspended run discarded
// this way can no longer be resumed.
func (cg *CompiledGraph[S]) Discard(ctx Context, store checkpoint.Store, runID string) error {
	if err := store.DeleteRun(ctx, runID); err != nil {
		return &CheckpointError{Op: "discard", Err: err}
	}
	return nil
}

func (cg *CompiledGraph[S]) loadLatest(ctx Context, store checkpoint.Store, runID string) (*checkpoint.Checkpoint, S, error) {
	var state S

	cp, err := checkpoint.Latest(ctx, store, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, state, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}
	if err != nil {
		return nil, state, fmt.Errorf("load checkpoint: %w", err)
	}

	if cp.Version != checkpoint.Version {
		return nil, state, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, state, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return cp, state, nil
}
