package research

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/llm"
)

// ToolSpec is a catalog entry shown to the oracle. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Oracle decides the next step of a session. It returns an AI message:
// without tool calls it is the final answer, otherwise it lists the calls
// to resolve in order. Implementations must not request parallel tool use.
type Oracle interface {
	Decide(ctx context.Context, prompt string, transcript []Message, catalog []ToolSpec) (Message, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, prompt string, transcript []Message, catalog []ToolSpec) (Message, error)

func (f OracleFunc) Decide(ctx context.Context, prompt string, transcript []Message, catalog []ToolSpec) (Message, error) {
	return f(ctx, prompt, transcript, catalog)
}

// LLMOracle is an Oracle backed by a chat model client.
type LLMOracle struct {
	client  llm.Client
	timeout time.Duration
}

// NewLLMOracle wraps client. A zero timeout leaves the call bounded only
// by ctx.
func NewLLMOracle(client llm.Client, timeout time.Duration) *LLMOracle {
	return &LLMOracle{client: client, timeout: timeout}
}

// Decide implements Oracle. Failures are returned as *OracleCallError.
func (o *LLMOracle) Decide(ctx context.Context, prompt string, transcript []Message, catalog []ToolSpec) (Message, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     toLLMMessages(transcript),
		Tools:        make([]llm.Tool, len(catalog)),
	}
	for i, spec := range catalog {
		req.Tools[i] = llm.Tool{Name: spec.Name, Description: spec.Description, Parameters: spec.Parameters}
	}

	resp, err := o.client.Complete(ctx, req)
	if err != nil {
		return Message{}, &OracleCallError{Err: err}
	}

	msg := AIMessage(resp.Content)
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return msg, nil
}

func toLLMMessages(transcript []Message) []llm.Message {
	out := make([]llm.Message, 0, len(transcript))
	for _, m := range transcript {
		lm := llm.Message{Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		switch m.Role {
		case RoleSystem:
			lm.Role = llm.RoleSystem
		case RoleAI:
			lm.Role = llm.RoleAssistant
			for _, tc := range m.ToolCalls {
				lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
		case RoleTool:
			lm.Role = llm.RoleTool
		default:
			lm.Role = llm.RoleUser
		}
		out = append(out, lm)
	}
	return out
}

// ErrScriptExhausted is returned by a ScriptedOracle with no steps left.
var ErrScriptExhausted = errors.New("oracle script exhausted")

// ScriptStep is one scripted oracle answer.
type ScriptStep struct {
	Reply Message
	Err   error
}

// ScriptedOracle replays a fixed sequence of answers. It is deterministic
// and records every prompt it receives, which makes it the oracle of
// choice for tests and demos.
type ScriptedOracle struct {
	mu    sync.Mutex
	steps []ScriptStep

	prompts     []string
	transcripts [][]Message
}

// NewScriptedOracle creates an oracle that answers with replies in order.
func NewScriptedOracle(replies ...Message) *ScriptedOracle {
	o := &ScriptedOracle{}
	return o.Then(replies...)
}

// Then appends replies to the script.
func (o *ScriptedOracle) Then(replies ...Message) *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range replies {
		o.steps = append(o.steps, ScriptStep{Reply: r})
	}
	return o
}

// ThenFail appends a failing step.
func (o *ScriptedOracle) ThenFail(err error) *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, ScriptStep{Err: err})
	return o
}

// Decide implements Oracle.
func (o *ScriptedOracle) Decide(ctx context.Context, prompt string, transcript []Message, _ []ToolSpec) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, &OracleCallError{Err: err}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.prompts = append(o.prompts, prompt)
	o.transcripts = append(o.transcripts, append([]Message(nil), transcript...))

	if len(o.steps) == 0 {
		return Message{}, &OracleCallError{Err: ErrScriptExhausted}
	}
	step := o.steps[0]
	o.steps = o.steps[1:]
	if step.Err != nil {
		return Message{}, &OracleCallError{Err: step.Err}
	}
	return step.Reply.clone(), nil
}

// Prompts returns the system prompts received so far.
func (o *ScriptedOracle) Prompts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.prompts...)
}

// Transcripts returns the transcripts received so far.
func (o *ScriptedOracle) Transcripts() [][]Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]Message(nil), o.transcripts...)
}

// Remaining returns the number of unused steps.
func (o *ScriptedOracle) Remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.steps)
}
