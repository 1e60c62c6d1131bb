package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Multiple validation failures are joined together.
//
// Validation checks (in order):
//  1. Entry point must be set and reference an existing node
//  2. Edge sources and targets must reference existing nodes (or END)
//  3. Interrupt nodes must exist and have an outgoing edge
//  4. A path to END must exist from the entry
//
// Unreachable nodes are logged as warnings but do not fail compilation.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range sortedKeys(g.edges) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.edges[from] {
			if to == END {
				continue
			}
			if _, exists := g.nodes[to]; !exists {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range sortedKeys(g.conditionalEdges) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
	}

	for _, id := range sortedKeys(g.interrupts) {
		if _, exists := g.nodes[id]; !exists {
			errs = append(errs, fmt.Errorf("%w: interrupt '%s' does not exist", ErrNodeNotFound, id))
			continue
		}
		_, hasRouter := g.conditionalEdges[id]
		if len(g.edges[id]) == 0 && !hasRouter {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInterruptWithoutEdge, id))
		}
	}

	if _, exists := g.nodes[g.entryPoint]; exists && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(), nil
}

// hasPathToEnd propagates "can reach END" backwards until a fixpoint.
// A conditional edge is assumed able to return END.
func (g *Graph[S]) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}
	for from := range g.conditionalEdges {
		canReachEnd[from] = true
	}

	for changed := true; changed; {
		changed = false
		for from, targets := range g.edges {
			if canReachEnd[from] {
				continue
			}
			for _, to := range targets {
				if canReachEnd[to] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

func (g *Graph[S]) warnUnreachableNodes() {
	if g.entryPoint == "" {
		return
	}

	reachable := g.findReachableNodes()
	for _, nodeID := range sortedKeys(g.nodes) {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes runs a BFS from the entry. Routers may return any
// node, so reaching one makes every node reachable.
func (g *Graph[S]) findReachableNodes() map[string]bool {
	reachable := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if _, ok := g.conditionalEdges[current]; ok {
			for nodeID := range g.nodes {
				reachable[nodeID] = true
			}
			return reachable
		}

		for _, target := range g.edges[current] {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reachable
}

func (g *Graph[S]) buildCompiledGraph() *CompiledGraph[S] {
	nodes := make(map[string]NodeFunc[S], len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}

	edges := make(map[string][]string, len(g.edges))
	predecessors := make(map[string][]string)
	for from, targets := range g.edges {
		edges[from] = append([]string(nil), targets...)
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	conditionalEdges := make(map[string]RouterFunc[S], len(g.conditionalEdges))
	for from, router := range g.conditionalEdges {
		conditionalEdges[from] = router
	}

	interrupts := make(map[string]bool, len(g.interrupts))
	for id := range g.interrupts {
		interrupts[id] = true
	}

	return &CompiledGraph[S]{
		nodes:            nodes,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		interrupts:       interrupts,
		predecessors:     predecessors,
		entryPoint:       g.entryPoint,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
