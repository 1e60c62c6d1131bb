package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph"
)

func TestRoute(t *testing.T) {
	approvals := NewApprovalSet(ReviewActionName)

	tests := []struct {
		name string
		msg  Message
		want ControlState
	}{
		{"no calls ends the run", AIMessage("done"), Terminal},
		{"executable calls", AIMessage("", call("a", "tavily_search", ""), call("b", "section_writer", "")), ExecutingTools},
		{"approval alone", AIMessage("", call("r", ReviewActionName, "")), AwaitingHuman},
		{"approval first", AIMessage("", call("r", ReviewActionName, ""), call("a", "tavily_search", "")), AwaitingHuman},
		{"approval last", AIMessage("", call("a", "tavily_search", ""), call("r", ReviewActionName, "")), AwaitingHuman},
		{"unknown tool still executes", AIMessage("", call("x", "nope", "")), ExecutingTools},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.msg, approvals))
		})
	}
}

func TestRoute_Totality(t *testing.T) {
	approvals := NewApprovalSet(ReviewActionName)
	names := []string{"tavily_search", ReviewActionName, "outline_writer", ""}

	// Every combination of up to three calls maps to exactly one state with
	// an engine node.
	for _, a := range names {
		for _, b := range names {
			for _, c := range names {
				msg := AIMessage("", call("1", a, ""), call("2", b, ""), call("3", c, ""))
				st := Route(msg, approvals)
				require.Contains(t, []ControlState{ExecutingTools, AwaitingHuman}, st)
				assert.NotPanics(t, func() { _ = st.Node() })
			}
		}
	}
}

func TestControlState_Text(t *testing.T) {
	for s := Deciding; s <= Terminal; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back ControlState
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var c ControlState
	assert.Error(t, c.UnmarshalText([]byte("sleeping")))
	assert.Equal(t, flowgraph.END, Terminal.Node())
	assert.Equal(t, NodeAskHuman, AwaitingHuman.Node())
}

func TestApprovalSet_FirstApproval(t *testing.T) {
	set := NewApprovalSet(ReviewActionName, "confirm")

	got, ok := set.FirstApproval([]ToolCall{call("a", "x", ""), call("b", "confirm", ""), call("c", ReviewActionName, "")})
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	_, ok = set.FirstApproval([]ToolCall{call("a", "x", "")})
	assert.False(t, ok)
}
