package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/observability"
)

// DefaultToolTimeout bounds a single tool call.
const DefaultToolTimeout = 2 * time.Minute

var errNoToolCalls = errors.New("research: tool round without tool calls")

// Executor runs a batch of tool calls strictly in order against the
// session state.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithToolTimeout sets the per-call deadline. Zero disables it.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExecutorLogger sets the logger used outside engine nodes.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithToolMetrics records reportgraph.tool.* metrics.
func WithToolMetrics(m observability.MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithToolSpans starts a reportgraph.tool.{name} span per call.
func WithToolSpans(sm observability.SpanManager) ExecutorOption {
	return func(e *Executor) {
		if sm != nil {
			e.spans = sm
		}
	}
}

// NewExecutor creates an Executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		timeout:  DefaultToolTimeout,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute resolves calls in order. Each tool gets a clone of the state
// produced by the previous call; a failing call keeps the prior state and
// is reported in its Tool message while the batch continues. Afterwards
// one Tool message per call is appended to the transcript and the new
// state (one version later) is returned with those messages.
//
// The round fails as a whole, returning the input state, when a call
// names an unregistered tool (*UnknownToolError, checked before anything
// runs), when a call exceeds the tool timeout, or when ctx ends.
func (e *Executor) Execute(ctx context.Context, state ConversationState, calls []ToolCall) (ConversationState, []Message, error) {
	if len(calls) == 0 {
		return state, nil, errNoToolCalls
	}

	tools := make([]Tool, len(calls))
	for i, call := range calls {
		tool, ok := e.registry.Lookup(call.Name)
		if !ok {
			return state, nil, &UnknownToolError{Name: call.Name, CallID: call.ID}
		}
		tools[i] = tool
	}

	logger := e.logger
	if fc, ok := ctx.(flowgraph.Context); ok {
		logger = fc.Logger()
	}

	view := ViewOf(state.Messages)
	current := state.Clone()
	msgs := make([]Message, 0, len(calls))

	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return state, nil, fmt.Errorf("tool round interrupted before %s: %w", call.Name, err)
		}

		next, content, fatal := e.runOne(ctx, logger, tools[i], call, current, view)
		if fatal != nil {
			return state, nil, fatal
		}

		// The transcript belongs to the executor; tools cannot rewrite it.
		next.Messages = current.Messages
		current = next
		msgs = append(msgs, ToolMessage(call.Name, content, call.ID))
	}

	current.Messages = append(current.Messages, msgs...)
	current.Version = state.Version + 1
	return current, msgs, nil
}

type invokeResult struct {
	state   ConversationState
	content string
	err     error
}

// runOne invokes a single call. A non-nil third result is fatal to the
// round; ordinary failures come back as content with the input state.
func (e *Executor) runOne(ctx context.Context, logger *slog.Logger, tool Tool, call ToolCall, state ConversationState, view TranscriptView) (ConversationState, string, error) {
	spanCtx, span := e.spans.StartToolSpan(ctx, call.Name, call.ID)
	start := time.Now()

	finish := func(err error) {
		d := time.Since(start)
		e.metrics.RecordToolCall(spanCtx, call.Name, d, err)
		e.spans.EndSpanWithError(span, err)
		observability.LogToolCall(logger, call.Name, call.ID, float64(d.Milliseconds()), err)
	}

	if err := e.registry.ValidateArgs(call.Name, call.Arguments); err != nil {
		execErr := &ToolExecutionError{Tool: call.Name, CallID: call.ID, Err: err}
		finish(execErr)
		return state, failureText(execErr), nil
	}

	callCtx := spanCtx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(spanCtx, e.timeout)
		defer cancel()
	}

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		next, content, err := tool.Invoke(callCtx, call.Arguments, state.Clone(), view)
		done <- invokeResult{state: next, content: content, err: err}
	}()

	var res invokeResult
	select {
	case res = <-done:
	case <-callCtx.Done():
	}

	// A tool that returns because its deadline passed still ends the round.
	if err := callCtx.Err(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("tool %s (call %s): %w", call.Name, call.ID, ctx.Err())
		} else {
			err = fmt.Errorf("tool %s (call %s) after %s: %w: %w", call.Name, call.ID, e.timeout, ErrToolTimeout, context.DeadlineExceeded)
		}
		finish(err)
		return state, "", err
	}

	if res.err != nil {
		execErr := &ToolExecutionError{Tool: call.Name, CallID: call.ID, Err: res.err}
		finish(execErr)
		return state, failureText(execErr), nil
	}
	finish(nil)
	return res.state, res.content, nil
}

func failureText(err *ToolExecutionError) string {
	return "Error: " + err.Error()
}

// DecodeArgs unmarshals tool arguments into v. Tools call it after the
// executor has checked args against their schema.
func DecodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &ValidationError{Field: "arguments", Err: err}
	}
	return nil
}
