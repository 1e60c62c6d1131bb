package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are returned in
// order and cycle when exhausted. Safe for concurrent use.
type MockClient struct {
	mu         sync.Mutex
	responses  []CompletionResponse
	next       int
	err        error
	completeFn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Calls records every request received.
	Calls []CompletionRequest
}

// NewMockClient creates a mock that always answers with content.
func NewMockClient(content string) *MockClient {
	return &MockClient{responses: []CompletionResponse{{Content: content, FinishReason: "stop"}}}
}

// WithResponses replaces the script with plain text responses.
func (m *MockClient) WithResponses(contents ...string) *MockClient {
	resps := make([]CompletionResponse, len(contents))
	for i, c := range contents {
		resps[i] = CompletionResponse{Content: c, FinishReason: "stop"}
	}
	return m.WithCompletions(resps...)
}

// WithCompletions replaces the script with full responses, e.g. ones
// carrying tool calls.
func (m *MockClient) WithCompletions(resps ...CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = resps
	m.next = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc replaces the script with fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFn = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, err := m.completeFn, m.err
	var resp CompletionResponse
	if fn == nil && err == nil && len(m.responses) > 0 {
		resp = m.responses[m.next%len(m.responses)]
		m.next++
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}

	resp.Usage = approximateUsage(req, resp.Content)
	return &resp, nil
}

// CallCount returns the number of calls made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds the script.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

// approximateUsage counts roughly four characters per token.
func approximateUsage(req CompletionRequest, content string) TokenUsage {
	in := len(req.SystemPrompt)
	for _, msg := range req.Messages {
		in += len(msg.Content)
	}
	u := TokenUsage{InputTokens: in/4 + 1, OutputTokens: len(content)/4 + 1}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u
}
