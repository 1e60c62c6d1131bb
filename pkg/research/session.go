package research

import (
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewSessionID returns a fresh URL-safe session ID.
func NewSessionID() string {
	id, err := gonanoid.New()
	if err != nil {
		// Only fails if the system entropy source does.
		panic("research: generate session id: " + err.Error())
	}
	return id
}

// session is the in-memory view of one conversation. mu serializes every
// operation on it, so at most one of oracle, tools or feedback is active.
type session struct {
	mu      sync.Mutex
	id      string
	state   ConversationState
	status  ControlState
	pending string
	lastErr string
}

func (s *session) result() Result {
	return Result{
		SessionID:     s.id,
		Status:        s.status,
		Reply:         s.state.Reply(),
		State:         s.state.Clone(),
		PendingCallID: s.pending,
		Err:           s.lastErr,
	}
}

func (s *session) update(status ControlState) StateUpdate {
	return StateUpdate{
		SessionID:     s.id,
		Status:        status,
		State:         s.state.Clone(),
		PendingCallID: s.pending,
		Err:           s.lastErr,
	}
}

// Result is the outcome of a driver operation.
type Result struct {
	SessionID     string            `json:"session_id"`
	Status        ControlState      `json:"status"`
	Reply         string            `json:"reply"`
	State         ConversationState `json:"state"`
	PendingCallID string            `json:"pending_call_id,omitempty"`
	Err           string            `json:"error,omitempty"`
}

// Suspended reports whether the session awaits a human response.
func (r Result) Suspended() bool {
	return r.Status == AwaitingHuman
}
