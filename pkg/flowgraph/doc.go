/*
Package flowgraph is a small typed graph engine for agent workflows that
may pause for a human and continue later.

# Overview

A Graph[S] is built from nodes (NodeFunc[S]) joined by simple edges or
conditional edges (RouterFunc[S]). Compile validates the structure and
returns an immutable CompiledGraph[S] that can be run concurrently for many
independent runs. State flows through the graph by value: every node
receives the current state and returns the next one.

# Basic Usage

	graph := flowgraph.NewGraph[State]().
	    AddNode("process", process).
	    AddEdge("process", flowgraph.END).
	    SetEntry("process")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Input: "hello"})

# Conditional Branching and Loops

A router picks the next node from the state. Returning to an earlier node
forms a loop; loops are bounded by WithMaxIterations (default 1000).

	graph.AddConditionalEdge("call_model", func(ctx flowgraph.Context, s State) string {
	    if s.Done {
	        return flowgraph.END
	    }
	    return "tools"
	})

# Interrupts

AddInterrupt marks a node as a suspension point. When it completes, the
engine resolves its successor, writes an interrupt checkpoint and returns
an *InterruptError. Resume applies external input with WithStateUpdate,
deletes the interrupt checkpoint and continues from the successor.

	_, err := compiled.Run(ctx, state,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithCheckpointMode(flowgraph.CheckpointInterruptsOnly),
	    flowgraph.WithRunID(sessionID))
	if ie, ok := flowgraph.AsInterrupt(err); ok {
	    // persisted; waiting for ie.PendingKey
	}

	// later, possibly in another process
	result, err := compiled.Resume(ctx, store, sessionID,
	    flowgraph.WithStateUpdate(addReply))

State types implementing Awaiter name the correlation key stored on the
interrupt checkpoint.

# Checkpointing

With CheckpointEveryNode (the default once a store is set) the state is
saved after every node, and Resume continues a crashed run from the node
after the last checkpoint. Stores live in the checkpoint subpackage
(memory and SQLite).

# Observability

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithObservabilityLogger(logger),
	    flowgraph.WithMetrics(true),
	    flowgraph.WithTracing(true))

Metrics are reportgraph.node.*, reportgraph.graph.runs (by outcome),
reportgraph.checkpoint.size_bytes and reportgraph.interrupts. Spans are
reportgraph.run with reportgraph.node.{id} children.

# Error Handling

Node failures are *NodeError, recovered panics *PanicError, bad router
results *RouterError, loop exhaustion *MaxIterationsError, and context
cancellation between nodes *CancellationError. An *InterruptError is not
a failure.
*/
package flowgraph
