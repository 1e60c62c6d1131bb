package flowgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph from the entry point with the given initial state.
//
// Run returns when the graph reaches END, an error occurs, or an interrupt
// node completes. In the last case the error is an *InterruptError (use
// AsInterrupt or errors.Is(err, ErrInterrupted)) and the returned state is
// the interrupt node's output; continue with Resume.
//
// On failure the returned state is the last state produced before the error.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initial,
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithRunID("session-42"))
//	if ie, ok := flowgraph.AsInterrupt(err); ok {
//	    // waiting for input at ie.NodeID
//	}
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return cg.execute(ctx, state, cg.entryPoint, &cfg)
}

// execute wraps the node loop with run-level logging, metrics and tracing.
// Shared by Run and Resume.
func (cg *CompiledGraph[S]) execute(ctx Context, state S, startNode string, cfg *runConfig) (result S, runErr error) {
	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state, ErrRunIDRequired
	}
	if cfg.runID == "" {
		cfg.runID = ctx.RunID()
	}

	start := time.Now()
	observability.LogRunStart(cfg.logger, cfg.runID, startNode)

	var tracingCtx context.Context = ctx
	if cfg.tracingEnabled {
		var runSpan trace.Span
		tracingCtx, runSpan = cfg.spans.StartRunSpan(ctx, "reportgraph", cfg.runID)
		defer func() {
			spanErr := runErr
			if ie, ok := AsInterrupt(runErr); ok {
				cfg.spans.AddSpanEvent(tracingCtx, "interrupted",
					attribute.String("node.id", ie.NodeID),
					attribute.String("pending", ie.PendingKey))
				spanErr = nil
			}
			cfg.spans.EndSpanWithError(runSpan, spanErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.loop(tracingCtx, ctx, state, startNode, cfg)

	duration := time.Since(start)
	durationMs := float64(duration.Milliseconds())

	switch ie, interrupted := AsInterrupt(runErr); {
	case interrupted:
		cfg.metrics.RecordGraphRun(ctx, observability.OutcomeInterrupted, duration)
		observability.LogRunInterrupted(cfg.logger, cfg.runID, ie.NodeID, ie.PendingKey, nodeCount)
	case runErr != nil:
		cfg.metrics.RecordGraphRun(ctx, observability.OutcomeFailed, duration)
		observability.LogRunError(cfg.logger, cfg.runID, runErr, durationMs, lastNodeOf(runErr))
	default:
		cfg.metrics.RecordGraphRun(ctx, observability.OutcomeCompleted, duration)
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, nodeCount)
	}

	return result, runErr
}

// loop is the node execution loop. tracingCtx carries span context;
// fgCtx is the flowgraph Context handed to nodes.
func (cg *CompiledGraph[S]) loop(tracingCtx context.Context, fgCtx Context, state S, startNode string, cfg *runConfig) (S, int, error) {
	current := startNode
	prevNode := ""
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-fgCtx.Done():
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  fgCtx.Err(),
			}
		default:
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()
		var nodeErr error
		state, nodeErr = cg.executeNode(nodeTracingCtx, fgCtx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()))
		nodeCount++

		next, err := cg.nextNode(fgCtx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		if cg.IsInterrupt(current) {
			return state, nodeCount, cg.suspend(fgCtx, cfg, current, prevNode, state, next)
		}

		if cfg.checkpointStore != nil && cfg.checkpointMode == CheckpointEveryNode {
			if err := cg.saveCheckpoint(fgCtx, cfg, checkpoint.New(cfg.runID, current, 0, nil, next).WithPrevNode(prevNode), state); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// suspend persists an interrupt checkpoint (when a store is configured) and
// builds the *InterruptError that ends the run.
func (cg *CompiledGraph[S]) suspend(ctx Context, cfg *runConfig, nodeID, prevNode string, state S, next string) error {
	since := time.Now().UTC()
	key := awaitingKey(state)
	ie := &InterruptError{
		RunID:      cfg.runID,
		NodeID:     nodeID,
		NextNode:   next,
		PendingKey: key,
		Since:      since,
	}

	cfg.metrics.RecordInterrupt(ctx, nodeID)

	if cfg.checkpointStore == nil {
		return ie
	}

	cp := checkpoint.New(cfg.runID, nodeID, 0, nil, next).
		WithPrevNode(prevNode).
		AsInterrupt(key, since)

	fatal := cfg.checkpointFailureFatal
	cfg.checkpointFailureFatal = true
	err := cg.saveCheckpoint(ctx, cfg, cp, state)
	cfg.checkpointFailureFatal = fatal
	if err != nil {
		return err
	}

	ie.Checkpointed = true
	return ie
}

// saveCheckpoint fills in the state, sequence and attempt of cp and writes
// it. Failures are logged and swallowed unless checkpointFailureFatal is set.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx Context, cfg *runConfig, cp *checkpoint.Checkpoint, state S) error {
	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: cp.NodeID, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, cp.NodeID, op, err)
		return nil
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", err)
	}

	cfg.sequence++
	cp.Sequence = cfg.sequence
	cp.State = stateBytes
	cp.Attempt = ctx.Attempt()

	data, err := cp.Marshal()
	if err != nil {
		return fail("marshal", err)
	}

	if err := cfg.checkpointStore.Save(ctx, cfg.runID, cp.NodeID, data); err != nil {
		return fail("save", err)
	}

	observability.LogCheckpoint(cfg.logger, cp.NodeID, len(data), cp.Interrupted)
	cfg.metrics.RecordCheckpoint(ctx, cp.NodeID, int64(len(data)))
	return nil
}

// executeNode runs one node with panic recovery. tracingCtx becomes the
// parent of the node's context so spans started inside nest correctly.
func (cg *CompiledGraph[S]) executeNode(tracingCtx context.Context, ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withParent(tracingCtx).withNodeID(nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		return result, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// nextNode resolves the successor of current: the conditional edge if one
// exists, otherwise the first simple edge.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)
		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END && !cg.HasNode(next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
		}
		return next, nil
	}

	edges := cg.edges[current]
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return edges[0], nil
}
