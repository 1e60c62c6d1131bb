package flowgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
)

func linearCounterGraph(t *testing.T) *CompiledGraph[Counter] {
	t.Helper()
	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)
	return compiled
}

func TestRunConfig_Defaults(t *testing.T) {
	cfg := defaultRunConfig()
	assert.Equal(t, DefaultMaxIterations, cfg.maxIterations)
	assert.Equal(t, CheckpointEveryNode, cfg.checkpointMode)
	assert.Nil(t, cfg.checkpointStore)
	assert.Empty(t, cfg.runID)
}

// The option set a session driver hands to every Run and Resume.
func TestRunConfig_SessionOptions(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cfg := defaultRunConfig()
	for _, opt := range []RunOption{
		WithCheckpointing(store),
		WithCheckpointMode(CheckpointInterruptsOnly),
		WithRunID("session-7"),
		WithMaxIterations(25),
	} {
		opt(&cfg)
	}

	assert.Same(t, store, cfg.checkpointStore)
	assert.Equal(t, CheckpointInterruptsOnly, cfg.checkpointMode)
	assert.Equal(t, "session-7", cfg.runID)
	assert.Equal(t, 25, cfg.maxIterations)
	assert.False(t, cfg.checkpointFailureFatal)
}

func TestWithMaxIterations_Bounds(t *testing.T) {
	for _, n := range []int{1, DefaultMaxIterations, MaxIterationsLimit} {
		cfg := defaultRunConfig()
		WithMaxIterations(n)(&cfg)
		assert.Equal(t, n, cfg.maxIterations)
	}

	assert.PanicsWithValue(t, "flowgraph: max iterations must be > 0", func() { WithMaxIterations(0) })
	assert.PanicsWithValue(t, "flowgraph: max iterations must be > 0", func() { WithMaxIterations(-3) })
	assert.PanicsWithValue(t, "flowgraph: max iterations exceeds limit (100000)", func() {
		WithMaxIterations(MaxIterationsLimit + 1)
	})
}

func TestWithMaxIterations_StopsRun(t *testing.T) {
	compiled := linearCounterGraph(t)

	result, err := compiled.Run(testCtx(), Counter{}, WithMaxIterations(1))
	var mie *MaxIterationsError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, 1, mie.Max)
	assert.Equal(t, "b", mie.LastNodeID)
	assert.Equal(t, 1, result.Value)

	result, err = compiled.Run(testCtx(), Counter{}, WithMaxIterations(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Value)
}

func TestWithCheckpointMode_EveryNodeKeysByRunID(t *testing.T) {
	compiled := linearCounterGraph(t)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store),
		WithRunID("run-a"))
	require.NoError(t, err)

	infos, err := store.List(context.Background(), "run-a")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].NodeID)
	assert.Equal(t, "b", infos[1].NodeID)

	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a"}, runs)
}

func TestWithRunID_RequiredForCheckpointing(t *testing.T) {
	compiled := linearCounterGraph(t)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Run(testCtx(), Counter{}, WithCheckpointing(store))
	require.ErrorIs(t, err, ErrRunIDRequired)
	assert.Equal(t, 0, store.Len())

	// Without a store the context's run ID is enough.
	ctx := NewContext(context.Background(), WithContextRunID("from-context"))
	_, err = compiled.Run(ctx, Counter{})
	require.NoError(t, err)
}

func TestWithCheckpointMode_InterruptsOnlyLeavesNothingAtEnd(t *testing.T) {
	compiled := linearCounterGraph(t)
	store := checkpoint.NewMemoryStore()

	result, err := compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store),
		WithCheckpointMode(CheckpointInterruptsOnly),
		WithRunID("run-b"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Value)
	assert.Equal(t, 0, store.Len())
}

func TestWithCheckpointMode_InterruptsOnlySavesSuspension(t *testing.T) {
	var tracker []string
	compiled := approvalGraph(t, &tracker)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store),
		WithCheckpointMode(CheckpointInterruptsOnly),
		WithRunID("run-c"))
	ie, ok := AsInterrupt(err)
	require.True(t, ok)
	assert.Equal(t, "run-c", ie.RunID)

	infos, err := store.List(context.Background(), "run-c")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "wait", infos[0].NodeID)
}

func TestResumeOptions_Accumulate(t *testing.T) {
	var cfg resumeConfig
	WithResumeRunOptions(WithRunID("x"))(&cfg)
	WithResumeRunOptions(WithMaxIterations(3), WithCheckpointMode(CheckpointInterruptsOnly))(&cfg)
	WithReplayNode()(&cfg)
	require.Len(t, cfg.run, 3)
	assert.True(t, cfg.replayNode)

	run := defaultRunConfig()
	for _, opt := range cfg.run {
		opt(&run)
	}
	assert.Equal(t, "x", run.runID)
	assert.Equal(t, 3, run.maxIterations)
	assert.Equal(t, CheckpointInterruptsOnly, run.checkpointMode)
}

func TestWithStateUpdate_RejectsOtherStateType(t *testing.T) {
	var cfg resumeConfig
	WithStateUpdate(func(s Counter) (Counter, error) {
		s.Value++
		return s, nil
	})(&cfg)

	got, err := cfg.stateUpdate(Counter{Value: 1})
	require.NoError(t, err)
	assert.Equal(t, Counter{Value: 2}, got)

	_, err = cfg.stateUpdate(State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state update expects")
}
