package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable notification.
type Event interface {
	ID() string
	Type() string   // e.g. "state.updated", "session.suspended"
	Source() string // component that emitted it

	CorrelationID() string // groups related events, usually a session ID
	CausationID() string   // ID of the event that caused this one

	Timestamp() time.Time
	Version() int

	Data() any
	DataBytes() []byte
}

// Metadata holds the common event fields.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schema_version"`
}

// BaseEvent is the generic Event implementation. T is the payload type.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	cachedBytes []byte
}

func (e *BaseEvent[T]) ID() string            { return e.Meta.EventID }
func (e *BaseEvent[T]) Type() string          { return e.Meta.EventType }
func (e *BaseEvent[T]) Source() string        { return e.Meta.EventSource }
func (e *BaseEvent[T]) CorrelationID() string { return e.Meta.CorrelationID }
func (e *BaseEvent[T]) CausationID() string   { return e.Meta.CausationID }
func (e *BaseEvent[T]) Timestamp() time.Time  { return e.Meta.Timestamp }
func (e *BaseEvent[T]) Version() int          { return e.Meta.SchemaVersion }
func (e *BaseEvent[T]) Data() any             { return e.Payload }

// TypedData returns the payload without a type assertion.
func (e *BaseEvent[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the JSON encoding of the payload, computed once.
// A payload that cannot be encoded yields nil.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// MarshalJSON encodes the metadata and payload envelope.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	type alias BaseEvent[T]
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON decodes the envelope and drops any cached payload bytes.
func (e *BaseEvent[T]) UnmarshalJSON(data []byte) error {
	type alias BaseEvent[T]
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}
	e.cachedBytes = nil
	return nil
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
	version       int
}

// WithEventID sets the event ID (default: a random UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) { cfg.id = id }
}

// WithCorrelationID sets the correlation ID (default: the event ID).
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) { cfg.correlationID = id }
}

// WithCausationID records the event that caused this one.
func WithCausationID(id string) Option {
	return func(cfg *eventConfig) { cfg.causationID = id }
}

// WithTimestamp sets the event time (default: now, UTC).
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) { cfg.timestamp = t }
}

// WithSchemaVersion sets the payload schema version (default: 1).
func WithSchemaVersion(v int) Option {
	return func(cfg *eventConfig) { cfg.version = v }
}

// New creates an event with the given type, source and payload.
func New[T any](eventType, source string, payload T, opts ...Option) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now().UTC(),
		version:   1,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// A root event starts its own correlation chain.
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &BaseEvent[T]{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
			SchemaVersion: cfg.version,
		},
		Payload: payload,
	}
}

// NewFromParent creates an event caused by parent. It inherits the
// parent's correlation ID; opts may override either field.
func NewFromParent[T any](parent Event, eventType, source string, payload T, opts ...Option) *BaseEvent[T] {
	all := append([]Option{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}, opts...)
	return New(eventType, source, payload, all...)
}

// Handler processes delivered events.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// TypedHandler adapts a function taking the payload type T. Events whose
// payload is not a T are reported as an *EventError.
func TypedHandler[T any](fn func(ctx context.Context, payload T, meta Metadata) error) Handler {
	return HandlerFunc(func(ctx context.Context, evt Event) error {
		payload, ok := evt.Data().(T)
		if !ok {
			return &EventError{Event: evt, Message: "unexpected payload type"}
		}
		return fn(ctx, payload, Metadata{
			EventID:       evt.ID(),
			EventType:     evt.Type(),
			EventSource:   evt.Source(),
			CorrelationID: evt.CorrelationID(),
			CausationID:   evt.CausationID(),
			Timestamp:     evt.Timestamp(),
			SchemaVersion: evt.Version(),
		})
	})
}
