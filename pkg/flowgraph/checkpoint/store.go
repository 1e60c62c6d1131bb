// Package checkpoint persists run snapshots so suspended or crashed runs
// can continue, possibly in a different process.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints keyed by (runID, nodeID).
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint, replacing any existing one for the same
	// (runID, nodeID). The replaced entry gets a new, higher sequence.
	Save(ctx context.Context, runID, nodeID string, data []byte) error

	// Load retrieves a checkpoint. Returns ErrNotFound if absent.
	Load(ctx context.Context, runID, nodeID string) ([]byte, error)

	// List returns a run's checkpoints ordered by sequence.
	// Returns an empty slice (not an error) for unknown runs.
	List(ctx context.Context, runID string) ([]Info, error)

	// Runs returns the IDs of all runs with at least one checkpoint, sorted.
	Runs(ctx context.Context) ([]string, error)

	// Delete removes a checkpoint. Deleting a missing one is not an error.
	Delete(ctx context.Context, runID, nodeID string) error

	// DeleteRun removes all checkpoints for a run.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	RunID     string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

var (
	ErrNotFound    = errors.New("checkpoint not found")
	ErrStoreClosed = errors.New("checkpoint store closed")
)
