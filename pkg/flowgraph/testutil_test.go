package flowgraph

import (
	"context"
)

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

// State is a richer state used by routing and checkpoint tests.
type State struct {
	Step     int
	Progress []string
	Input    string
	Approved bool
	Pending  string
	Done     bool
	GoLeft   bool
}

// AwaitingKey makes State an Awaiter.
func (s State) AwaitingKey() string { return s.Pending }

func increment(ctx Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

func passthrough[S any](ctx Context, s S) (S, error) {
	return s, nil
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, tracker *[]string) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		*tracker = append(*tracker, name)
		s.Progress = append(append([]string(nil), s.Progress...), name)
		return s, nil
	}
}

func makeFailingNode(err error) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		return s, err
	}
}

func makePanicNode(value any) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		panic(value)
	}
}

func testCtx() Context {
	return NewContext(context.Background())
}
