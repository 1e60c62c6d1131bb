package checkpoint_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")

	store1, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.Save(ctx, "session-1", "ask_human", []byte("persistent")))
	require.NoError(t, store1.Close())

	store2, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	data, err := store2.Load(ctx, "session-1", "ask_human")
	require.NoError(t, err)
	assert.Equal(t, []byte("persistent"), data)

	runs, err := store2.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"session-1"}, runs)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_CancelledContext(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Save(ctx, "r", "n", []byte("x")))
}
