package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	Version int    `json:"version"`
	Title   string `json:"title"`
}

func TestNew_Defaults(t *testing.T) {
	evt := event.New("state.updated", "tools", update{Version: 3, Title: "X"})

	assert.NotEmpty(t, evt.ID())
	assert.Equal(t, "state.updated", evt.Type())
	assert.Equal(t, "tools", evt.Source())
	assert.Equal(t, evt.ID(), evt.CorrelationID(), "root event correlates to itself")
	assert.Empty(t, evt.CausationID())
	assert.Equal(t, 1, evt.Version())
	assert.False(t, evt.Timestamp().IsZero())
	assert.Equal(t, update{Version: 3, Title: "X"}, evt.TypedData())
	assert.JSONEq(t, `{"version":3,"title":"X"}`, string(evt.DataBytes()))
}

func TestNew_Options(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	evt := event.New("session.suspended", "driver", "payload",
		event.WithEventID("evt-1"),
		event.WithCorrelationID("session-9"),
		event.WithTimestamp(ts),
		event.WithSchemaVersion(2))

	assert.Equal(t, "evt-1", evt.ID())
	assert.Equal(t, "session-9", evt.CorrelationID())
	assert.Equal(t, ts, evt.Timestamp())
	assert.Equal(t, 2, evt.Version())
}

func TestNewFromParent(t *testing.T) {
	parent := event.New("session.started", "driver", 0, event.WithCorrelationID("session-1"))
	child := event.NewFromParent(parent, "state.updated", "tools", update{Version: 1})

	assert.Equal(t, "session-1", child.CorrelationID())
	assert.Equal(t, parent.ID(), child.CausationID())
	assert.NotEqual(t, parent.ID(), child.ID())
}

func TestBaseEvent_JSONEnvelope(t *testing.T) {
	evt := event.New("state.updated", "tools", update{Version: 2}, event.WithCorrelationID("s"))

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded event.BaseEvent[update]
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, evt.Meta, decoded.Meta)
	assert.Equal(t, 2, decoded.TypedData().Version)
}

func TestTypedHandler(t *testing.T) {
	var got update
	var meta event.Metadata
	h := event.TypedHandler(func(_ context.Context, p update, m event.Metadata) error {
		got, meta = p, m
		return nil
	})

	evt := event.New("state.updated", "tools", update{Version: 5}, event.WithCorrelationID("s-5"))
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, 5, got.Version)
	assert.Equal(t, "s-5", meta.CorrelationID)

	err := h.Handle(context.Background(), event.New("other", "x", 42))
	var evtErr *event.EventError
	require.True(t, errors.As(err, &evtErr))
	assert.Contains(t, err.Error(), "unexpected payload type")
}
