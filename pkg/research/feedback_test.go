package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewState(t *testing.T, content string) ConversationState {
	t.Helper()
	return ConversationState{
		Messages: []Message{
			HumanMessage("Research X"),
			AIMessage("", call("r1", ReviewActionName, "")),
			ToolMessage(ReviewActionName, content, "r1"),
		},
		Outline:     Outline{"9": {Title: "Stale"}},
		PendingTool: "r1",
		Version:     5,
	}
}

func TestProcessFeedback_ApprovedMerge(t *testing.T) {
	in := reviewState(t, `{"approved":true,"sections":{"1":{"title":"Intro","description":"d1","approved":true},"2":{"title":"Body","description":"d2","approved":false}}}`)

	out, err := ProcessFeedback(in)
	require.NoError(t, err)

	assert.Equal(t, Outline{"1": {Title: "Intro", Description: "d1"}}, out.Outline)
	require.NotNil(t, out.Proposal)
	assert.True(t, out.Proposal.Approved)
	assert.Len(t, out.Proposal.Sections, 2)
	assert.Empty(t, out.PendingTool)
	assert.Equal(t, 6, out.Version)

	// input untouched
	assert.Equal(t, Outline{"9": {Title: "Stale"}}, in.Outline)
	assert.Equal(t, "r1", in.PendingTool)
}

func TestProcessFeedback_Idempotent(t *testing.T) {
	in := reviewState(t, reviewJSON(t, sampleProposal()))

	once, err := ProcessFeedback(in)
	require.NoError(t, err)
	twice, err := ProcessFeedback(once)
	require.NoError(t, err)

	assert.Equal(t, once.Outline, twice.Outline)
	assert.Equal(t, once.Proposal, twice.Proposal)
}

func TestProcessFeedback_RejectedKeepsOutline(t *testing.T) {
	in := reviewState(t, `{"approved":false,"remarks":"more history","sections":{"1":{"title":"Intro","description":"d1","approved":true}}}`)

	out, err := ProcessFeedback(in)
	require.NoError(t, err)
	assert.Equal(t, in.Outline, out.Outline)
	assert.Equal(t, "more history", out.Proposal.Remarks)
	assert.False(t, out.Proposal.Approved)
}

func TestProcessFeedback_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":         `approve it`,
		"missing sections": `{"approved":true}`,
		"missing approved": `{"sections":{}}`,
		"bad section":      `{"approved":true,"sections":{"1":{"title":"Intro"}}}`,
		"wrong type":       `{"approved":"yes","sections":{}}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			in := reviewState(t, content)
			out, err := ProcessFeedback(in)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "proposal", ve.Field)
			assert.Equal(t, in, out)
		})
	}
}

func TestProcessFeedback_PassThrough(t *testing.T) {
	in := ConversationState{Messages: []Message{ToolMessage("confirm", "yes", "c1")}, PendingTool: "c1", Outline: Outline{"1": {Title: "A"}}}

	out, err := ProcessFeedback(in)
	require.NoError(t, err)
	assert.Equal(t, in.Outline, out.Outline)
	assert.Nil(t, out.Proposal)
	assert.Empty(t, out.PendingTool)
}

func TestProcessFeedback_RequiresToolMessage(t *testing.T) {
	_, err := ProcessFeedback(ConversationState{Messages: []Message{HumanMessage("hi")}})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestParseProposal_EmptySections(t *testing.T) {
	p, err := ParseProposal(`{"approved":true,"sections":{}}`)
	require.NoError(t, err)
	assert.NotNil(t, p.Sections)
	assert.Empty(t, p.ApprovedOutline())
}
