package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportgraph/pkg/research"
)

func testDriver(t *testing.T, oracle research.Oracle) *research.Driver {
	t.Helper()
	spec := research.ToolSpec{Name: "outline_writer", Parameters: json.RawMessage(`{"type":"object"}`)}
	outline := research.ToolFunc(spec, func(_ context.Context, _ json.RawMessage, s research.ConversationState, _ research.TranscriptView) (research.ConversationState, string, error) {
		s.Title = "Go"
		s.Proposal = &research.Proposal{Sections: map[string]research.ProposalSection{
			"1":  {Title: "Goroutines", Description: "basics"},
			"2":  {Title: "Channels", Description: "communication"},
			"10": {Title: "Appendix", Description: "links"},
		}}
		return s, "Outline proposal written.", nil
	})

	reg := research.NewRegistry()
	require.NoError(t, reg.Register(outline))
	require.NoError(t, reg.RegisterAction(research.ReviewActionSpec()))

	d, err := research.NewDriver(oracle, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func reviewOracle(final string) *research.ScriptedOracle {
	return research.NewScriptedOracle(
		research.AIMessage("", research.ToolCall{ID: "o1", Name: "outline_writer", Arguments: json.RawMessage(`{}`)}),
		research.AIMessage("", research.ToolCall{ID: "r1", Name: research.ReviewActionName}),
		research.AIMessage(final),
	)
}

func TestChat_ReviewsOutline(t *testing.T) {
	d := testDriver(t, reviewOracle("Outline saved."))
	in := strings.NewReader("Research Go\n\nn\ny\nkeep it short\n/report\n/quit\n")
	var out bytes.Buffer

	require.NoError(t, newChat(d, "s1", in, &out).run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "session s1")
	assert.Contains(t, text, "  1. Goroutines\n     basics\n")
	assert.Less(t, strings.Index(text, "2. Channels"), strings.Index(text, "10. Appendix"))
	assert.Contains(t, text, "agent> Outline saved.")
	assert.Contains(t, text, "# Go\n")

	state, status, err := d.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, research.Terminal, status)
	assert.Equal(t, research.Outline{
		"1":  {Title: "Goroutines", Description: "basics"},
		"10": {Title: "Appendix", Description: "links"},
	}, state.Outline)
	require.NotNil(t, state.Proposal)
	assert.Equal(t, "keep it short", state.Proposal.Remarks)
}

func TestChat_FailedRoundCanBeRetried(t *testing.T) {
	oracle := research.NewScriptedOracle().
		ThenFail(errors.New("connection reset")).
		Then(research.AIMessage("Hello again."))
	d := testDriver(t, oracle)
	in := strings.NewReader("hi\n/retry\n")
	var out bytes.Buffer

	require.NoError(t, newChat(d, "s1", in, &out).run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "error: The model could not be reached")
	assert.Contains(t, text, "type /retry to try again")
	assert.Contains(t, text, "agent> Hello again.")
}

func TestChat_InputClosedDuringReview(t *testing.T) {
	d := testDriver(t, reviewOracle("unused"))
	in := strings.NewReader("Research Go\ny\n")
	var out bytes.Buffer

	require.NoError(t, newChat(d, "s1", in, &out).run(context.Background()))
	assert.Contains(t, out.String(), "the session stays suspended")

	_, status, err := d.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, research.AwaitingHuman, status)

	// A new chat on the same session picks the review up again.
	out.Reset()
	in = strings.NewReader("y\ny\ny\n\n/quit\n")
	require.NoError(t, newChat(d, "s1", in, &out).run(context.Background()))
	assert.Contains(t, out.String(), "agent> unused")
}
