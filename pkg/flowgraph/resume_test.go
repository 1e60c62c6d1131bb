package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointing_EveryNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := testCtx()

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(ctx, Counter{}, WithCheckpointing(store), WithRunID("run-1"))
	require.NoError(t, err)

	infos, err := store.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	data, err := store.Load(ctx, "run-1", "b")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, END, cp.NextNode)
	assert.Equal(t, "a", cp.PrevNodeID)
	assert.Equal(t, 2, cp.Sequence)
	assert.False(t, cp.Interrupted)

	var state Counter
	require.NoError(t, json.Unmarshal(cp.State, &state))
	assert.Equal(t, 2, state.Value)
}

func TestCheckpointing_InterruptsOnlySkipsOrdinaryNodes(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store),
		WithCheckpointMode(CheckpointInterruptsOnly),
		WithRunID("run-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestCheckpointing_RequiresRunID(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), Counter{}, WithCheckpointing(checkpoint.NewMemoryStore()))
	assert.ErrorIs(t, err, ErrRunIDRequired)
}

func TestCheckpointing_NonFatalSaveFailure(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Close())

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{}, WithCheckpointing(store), WithRunID("r"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Value)

	_, err = compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store), WithRunID("r"), WithCheckpointFailureFatal(true))
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
}

func TestResume_AfterCrash(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := testCtx()
	crash := true
	var tracker []string

	compiled, err := NewGraph[State]().
		AddNode("a", makeTrackingNode("a", &tracker)).
		AddNode("b", func(ctx Context, s State) (State, error) {
			if crash {
				return s, errors.New("crash")
			}
			tracker = append(tracker, "b")
			s.Progress = append(s.Progress, "b")
			return s, nil
		}).
		AddNode("c", makeTrackingNode("c", &tracker)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(ctx, State{}, WithCheckpointing(store), WithRunID("crash-run"))
	require.Error(t, err)

	crash = false
	tracker = nil
	result, err := compiled.Resume(ctx, store, "crash-run")

	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, tracker)
	assert.Equal(t, []string{"a", "b", "c"}, result.Progress)
}

func TestResume_ReplayNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := testCtx()

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(ctx, Counter{}, WithCheckpointing(store), WithRunID("r"))
	require.NoError(t, err)

	result, err := compiled.Resume(ctx, store, "r", WithReplayNode())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Value)
}

func TestResume_VersionMismatch(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := testCtx()

	cp := checkpoint.New("r", "a", 1, []byte(`{"Value":1}`), END)
	cp.Version = checkpoint.Version + 1
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "r", "a", data))

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Resume(ctx, store, "r")
	assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
}

func TestResume_BadState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := testCtx()

	data, err := checkpoint.New("r", "a", 1, []byte(`"not a counter"`), END).Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "r", "a", data))

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Resume(ctx, store, "r")
	assert.ErrorIs(t, err, ErrDeserializeState)
}

func TestResume_UnknownNextNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := testCtx()

	data, err := checkpoint.New("r", "a", 1, []byte(`{"Value":1}`), "removed").Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "r", "a", data))

	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Resume(ctx, store, "r")
	assert.ErrorIs(t, err, ErrInvalidResumeNode)
}

func TestResume_NilContext(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Resume(nil, checkpoint.NewMemoryStore(), "r")
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestResume_SQLiteAcrossStores(t *testing.T) {
	path := t.TempDir() + "/cp.db"
	ctx := NewContext(context.Background())
	var tracker []string
	compiled := approvalGraph(t, &tracker)

	first, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = compiled.Run(ctx, State{},
		WithCheckpointing(first),
		WithCheckpointMode(CheckpointInterruptsOnly),
		WithRunID("durable"))
	require.ErrorIs(t, err, ErrInterrupted)
	require.NoError(t, first.Close())

	second, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	result, err := compiled.Resume(ctx, second, "durable", setInput("yes"),
		WithResumeRunOptions(WithCheckpointMode(CheckpointInterruptsOnly)))
	require.NoError(t, err)
	assert.True(t, result.Approved)

	runs, err := second.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
