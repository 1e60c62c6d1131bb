package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_FixedResponse(t *testing.T) {
	mock := llm.NewMockClient("Hello, world!")

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMockClient_SequentialResponses(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("first", "second")
	ctx := context.Background()

	for _, want := range []string{"first", "second", "first"} {
		resp, err := mock.Complete(ctx, llm.CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
}

func TestMockClient_ScriptedToolCalls(t *testing.T) {
	mock := llm.NewMockClient("").WithCompletions(
		llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: "outline_writer", Arguments: json.RawMessage(`{"topic":"X"}`),
		}}},
		llm.CompletionResponse{Content: "done"},
	)

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "outline_writer", resp.ToolCalls[0].Name)

	resp, err = mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, "done", resp.Content)
}

func TestMockClient_WithError(t *testing.T) {
	expectedErr := errors.New("test error")
	mock := llm.NewMockClient("").WithError(expectedErr)

	_, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 1, mock.CallCount())
}

func TestMockClient_CallTracking(t *testing.T) {
	mock := llm.NewMockClient("response")
	assert.Nil(t, mock.LastCall())

	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "First question"}},
	})
	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Second question"}},
	})

	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, "First question", mock.Calls[0].Messages[0].Content)
	require.NotNil(t, mock.LastCall())
	assert.Equal(t, "Second question", mock.LastCall().Messages[0].Content)
}

func TestMockClient_Reset(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("a", "b", "c")

	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{})
	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{})
	mock.Reset()

	assert.Equal(t, 0, mock.CallCount())
	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Content)
}

func TestMockClient_CustomCompleteFunc(t *testing.T) {
	mock := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "Echo: " + req.Messages[0].Content}, nil
	})

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "test"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Echo: test", resp.Content)
}

func TestMockClient_ContextCancellation(t *testing.T) {
	mock := llm.NewMockClient("response")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockClient_TokenUsage(t *testing.T) {
	mock := llm.NewMockClient("some response text")

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "be brief"})
	require.NoError(t, err)
	assert.Greater(t, resp.Usage.InputTokens, 0)
	assert.Greater(t, resp.Usage.OutputTokens, 0)
	assert.Equal(t, resp.Usage.InputTokens+resp.Usage.OutputTokens, resp.Usage.TotalTokens)
}

func TestTokenUsage_Add(t *testing.T) {
	u := llm.TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	u.Add(llm.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	assert.Equal(t, llm.TokenUsage{InputTokens: 11, OutputTokens: 22, TotalTokens: 33}, u)
}

func TestNew(t *testing.T) {
	c, err := llm.New("openai", "sk-x")
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIClient{}, c)

	c, err = llm.New("Anthropic", "sk-x")
	require.NoError(t, err)
	assert.IsType(t, &llm.AnthropicClient{}, c)

	_, err = llm.New("openai", "")
	assert.ErrorContains(t, err, "api key missing")

	_, err = llm.New("cohere", "k")
	assert.ErrorContains(t, err, "unknown provider")
}
