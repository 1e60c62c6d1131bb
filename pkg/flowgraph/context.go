package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with a logger and run metadata.
//
// Context is immutable after creation. The executor derives a context per
// node with NodeID set and the logger enriched.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string outside of node execution.
	NodeID() string

	// Attempt returns the attempt number (1 = first attempt).
	Attempt() int
}

type executionContext struct {
	context.Context

	logger  *slog.Logger
	runID   string
	nodeID  string
	attempt int
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) Attempt() int         { return c.attempt }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID is generated. For checkpoint keys use WithRunID.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// WithAttempt sets the attempt number reported to nodes and checkpoints.
func WithAttempt(n int) ContextOption {
	return func(c *executionContext) {
		if n > 0 {
			c.attempt = n
		}
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(logger),
//	    flowgraph.WithContextRunID(sessionID))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
		attempt: 1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context: c.Context,
		logger:  c.logger.With("run_id", c.runID, "node_id", nodeID, "attempt", c.attempt),
		runID:   c.runID,
		nodeID:  nodeID,
		attempt: c.attempt,
	}
}

// withParent swaps the underlying context.Context, keeping metadata.
// Used to carry span context into nodes.
func (c *executionContext) withParent(parent context.Context) *executionContext {
	cp := *c
	cp.Context = parent
	return &cp
}
