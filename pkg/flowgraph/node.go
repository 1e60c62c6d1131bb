package flowgraph

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and current state,
// and return the next version of the state and any error.
//
// The state parameter is passed by value. State types that hold maps or
// slices should copy them before mutating so the caller's version stays
// intact; nodes must never retain the state after returning.
//
// Example:
//
//	func decide(ctx flowgraph.Context, s Conversation) (Conversation, error) {
//	    s.Turns++
//	    return s, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
//
// The router should return a valid node ID or flowgraph.END.
// Returning an empty string or an unknown node ID will cause a runtime error.
//
// Example:
//
//	func route(ctx flowgraph.Context, s Conversation) string {
//	    if s.Done {
//	        return flowgraph.END
//	    }
//	    return "tools"
//	}
type RouterFunc[S any] func(ctx Context, state S) string
