// Package llm adapts chat model providers to a single Client interface.
//
// Two production clients are provided, OpenAIClient and AnthropicClient,
// plus MockClient for tests. Every client asks the provider for at most one
// tool call per turn and never retries on its own: a failed call is
// returned as an *Error whose cause can be classified with the flowgraph
// errors package.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	fgerrors "github.com/randalmurphal/reportgraph/pkg/flowgraph/errors"
)

// Client performs model completions.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// New builds a client for the named provider.
func New(provider, apiKey string, opts ...Option) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: %s api key missing", provider)
	}
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, opts...), nil
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
}

// Option configures a provider client.
type Option func(*settings)

type settings struct {
	model       string
	maxTokens   int
	temperature float64
	baseURL     string
	timeout     time.Duration
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) Option {
	return func(s *settings) { s.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// WithBaseURL points the client at a compatible endpoint or a test server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func newSettings(model string, opts []Option) settings {
	s := settings{model: model, maxTokens: 4096}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) resolve(req CompletionRequest) (model string, maxTokens int, temperature float64) {
	model, maxTokens, temperature = s.model, s.maxTokens, s.temperature
	if req.Model != "" {
		model = req.Model
	}
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	return model, maxTokens, temperature
}

// Error is a failed provider call.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed.
func (e *Error) Retryable() bool {
	return fgerrors.IsRetryable(e.Err)
}

// NewError wraps err. A non-zero status is recorded as an HTTPError so
// that callers can classify it.
func NewError(provider, op string, status int, err error) *Error {
	if status > 0 {
		err = fmt.Errorf("%w: %w", &fgerrors.HTTPError{StatusCode: status, Message: statusText(status), Endpoint: provider}, err)
	}
	return &Error{Provider: provider, Op: op, Err: err}
}

func statusText(status int) string {
	switch {
	case status == 429:
		return "rate limited"
	case status >= 500:
		return "provider unavailable"
	case status == 401 || status == 403:
		return "unauthorized"
	default:
		return "request rejected"
	}
}

// ctxError prefers the context's error over the transport's.
func ctxError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
