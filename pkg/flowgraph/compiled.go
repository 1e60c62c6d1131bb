package flowgraph

import "sort"

// CompiledGraph is an immutable, executable graph created by Compile.
//
// CompiledGraph is safe for concurrent use by multiple Run and Resume
// calls. Callers that share a checkpoint store across runs must use
// distinct run IDs.
type CompiledGraph[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	interrupts       map[string]bool
	predecessors     map[string][]string
	entryPoint       string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in sorted order.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the simple-edge targets of a node.
// Conditional targets are decided at runtime and not included.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.edges[id]
}

// Predecessors returns the nodes with a simple edge into id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// IsInterrupt returns true if execution suspends after the node.
func (cg *CompiledGraph[S]) IsInterrupt(id string) bool {
	return cg.interrupts[id]
}

func (cg *CompiledGraph[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}

func (cg *CompiledGraph[S]) getRouter(id string) (RouterFunc[S], bool) {
	router, exists := cg.conditionalEdges[id]
	return router, exists
}
