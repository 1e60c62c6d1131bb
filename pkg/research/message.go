package research

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// NormalizeRole maps provider aliases onto the four transcript roles.
// Anything unrecognized becomes RoleHuman so externally supplied messages
// are never dropped.
func NormalizeRole(r string) Role {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "system":
		return RoleSystem
	case "ai", "assistant":
		return RoleAI
	case "tool", "function":
		return RoleTool
	default:
		return RoleHuman
	}
}

// ToolCall is a named tool request issued by the oracle.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one transcript entry. AI messages may carry ToolCalls; Tool
// messages carry Name and the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// UnmarshalJSON accepts role aliases ("user", "assistant") and normalizes
// unknown roles to human.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	m.Role = NormalizeRole(raw.Role)
	return nil
}

// Normalize returns m with its role mapped onto a known role. A human
// message keeps only its content.
func (m Message) Normalize() Message {
	m.Role = NormalizeRole(string(m.Role))
	if m.Role == RoleHuman {
		return Message{Role: RoleHuman, Content: m.Content}
	}
	return m
}

// HasToolCalls reports whether m is an AI message requesting tools.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAI && len(m.ToolCalls) > 0
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			c.Arguments = append(json.RawMessage(nil), c.Arguments...)
			calls[i] = c
		}
		m.ToolCalls = calls
	}
	return m
}

func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

func AIMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAI, Content: content, ToolCalls: calls}
}

func ToolMessage(name, content, callID string) Message {
	return Message{Role: RoleTool, Name: name, Content: content, ToolCallID: callID}
}

// ViewEntry is one read-only transcript line handed to tools.
type ViewEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TranscriptView is an ordered, read-only rendering of the transcript.
// Order and repeated roles are preserved.
type TranscriptView []ViewEntry

// ViewOf builds a TranscriptView of msgs.
func ViewOf(msgs []Message) TranscriptView {
	view := make(TranscriptView, len(msgs))
	for i, m := range msgs {
		view[i] = ViewEntry{Role: m.Role, Content: m.Content}
	}
	return view
}

// Last returns the content of the most recent entry with the given role.
func (v TranscriptView) Last(role Role) (string, bool) {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i].Role == role {
			return v[i].Content, true
		}
	}
	return "", false
}

// String renders the view as "role: content" lines.
func (v TranscriptView) String() string {
	var b strings.Builder
	for _, e := range v {
		if e.Content == "" {
			continue
		}
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return b.String()
}
