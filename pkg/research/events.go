package research

import (
	"context"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/event"
)

// Event types published by a Driver.
const (
	EventStateUpdated     = "state.updated"
	EventSessionSuspended = "session.suspended"
	EventSessionResumed   = "session.resumed"
	EventSessionCompleted = "session.completed"
	EventSessionFailed    = "session.failed"
	EventSessionAbandoned = "session.abandoned"
)

const eventSource = "research.driver"

// StateUpdate is the payload of every driver event. NewMessages holds the
// transcript entries added by the step that produced the event.
type StateUpdate struct {
	SessionID     string            `json:"session_id"`
	Node          string            `json:"node,omitempty"`
	Status        ControlState      `json:"status"`
	NewMessages   []Message         `json:"new_messages,omitempty"`
	State         ConversationState `json:"state"`
	PendingCallID string            `json:"pending_call_id,omitempty"`
	Err           string            `json:"error,omitempty"`
}

func (d *Driver) publish(ctx context.Context, eventType string, update StateUpdate) {
	evt := event.New(eventType, eventSource, update, event.WithCorrelationID(update.SessionID))
	if err := d.bus.Publish(context.WithoutCancel(ctx), evt); err != nil {
		d.logger.Debug("event dropped",
			"event_type", eventType,
			"session_id", update.SessionID,
			"error", err)
	}
}

// Subscribe registers handler for every driver event. Events of one
// session arrive in the order they were published.
func (d *Driver) Subscribe(handler event.Handler) event.Subscription {
	return d.bus.SubscribeAll(handler)
}

// SubscribeSession registers handler for the events of one session.
func (d *Driver) SubscribeSession(sessionID string, handler event.Handler) event.Subscription {
	return d.bus.SubscribeAll(event.HandlerFunc(func(ctx context.Context, evt event.Event) error {
		if evt.CorrelationID() != sessionID {
			return nil
		}
		return handler.Handle(ctx, evt)
	}))
}
