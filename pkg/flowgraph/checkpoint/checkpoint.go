package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted envelope around a serialized run state.
// It carries everything needed to continue the run in another process.
type Checkpoint struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	State    json.RawMessage `json:"state"`
	NextNode string          `json:"next_node"`

	Attempt    int    `json:"attempt"`
	PrevNodeID string `json:"prev_node_id,omitempty"`

	// Interrupted marks a checkpoint written by an interrupt node. The run
	// is suspended until it is resumed with external input.
	Interrupted   bool       `json:"interrupted,omitempty"`
	PendingCallID string     `json:"pending_call_id,omitempty"`
	AwaitingSince *time.Time `json:"awaiting_since,omitempty"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a checkpoint. State must already be JSON-serialized.
func New(runID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		RunID:     runID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Attempt:   1,
	}
}

// WithAttempt sets the attempt number for retry tracking.
func (c *Checkpoint) WithAttempt(attempt int) *Checkpoint {
	c.Attempt = attempt
	return c
}

// WithPrevNode sets the previous node ID for debugging.
func (c *Checkpoint) WithPrevNode(prevNodeID string) *Checkpoint {
	c.PrevNodeID = prevNodeID
	return c
}

// AsInterrupt marks the checkpoint as a suspension point awaiting key.
func (c *Checkpoint) AsInterrupt(key string, since time.Time) *Checkpoint {
	since = since.UTC()
	c.Interrupted = true
	c.PendingCallID = key
	c.AwaitingSince = &since
	return c
}

// Latest loads and decodes the highest-sequence checkpoint of a run.
// Returns ErrNotFound if the run has none.
func Latest(ctx context.Context, store Store, runID string) (*Checkpoint, error) {
	infos, err := store.List(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}

	data, err := store.Load(ctx, runID, infos[len(infos)-1].NodeID)
	if err != nil {
		return nil, err
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}
