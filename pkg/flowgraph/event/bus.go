package event

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Bus distributes events to subscribers.
type Bus interface {
	// Publish delivers evt to every matching subscription.
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers handler for the given event types.
	Subscribe(types []string, handler Handler) Subscription

	// SubscribeAll registers handler for every event type.
	SubscribeAll(handler Handler) Subscription

	Close() error
}

// Subscription is an active registration on a Bus.
type Subscription interface {
	Unsubscribe()
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the per-subscription channel size. Default: 256.
	BufferSize int

	// NonBlocking drops events for subscriptions whose buffer is full
	// instead of blocking Publish.
	NonBlocking bool

	// OnDrop is called for each dropped event in NonBlocking mode.
	OnDrop func(evt Event, subscriberID string)

	// OnError is called when a handler returns an error.
	OnError func(evt Event, subscriberID string, err error)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
}

// LocalBus is an in-process Bus. It is safe for concurrent use.
type LocalBus struct {
	config BusConfig

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byType        map[string]map[string]*subscription
	wildcards     map[string]*subscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewBus creates a LocalBus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{
		config:        config,
		subscriptions: make(map[string]*subscription),
		byType:        make(map[string]map[string]*subscription),
		wildcards:     make(map[string]*subscription),
		closeCh:       make(chan struct{}),
	}
}

type subscription struct {
	id      string
	types   []string
	handler Handler
	events  chan Event
	done    chan struct{}
	stop    sync.Once
	bus     *LocalBus
}

// Publish delivers evt to all matching subscriptions.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{Event: evt, Message: "publish", Err: ErrBusClosed}
	}

	b.mu.RLock()
	subs := b.matching(evt.Type())
	b.mu.RUnlock()

	for _, sub := range subs {
		if b.config.NonBlocking {
			select {
			case sub.events <- evt:
			default:
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
			continue
		}

		select {
		case sub.events <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return &EventError{Event: evt, Message: "publish", Err: ErrBusClosed}
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(types []string, handler Handler) Subscription {
	return b.subscribe(types, handler)
}

func (b *LocalBus) SubscribeAll(handler Handler) Subscription {
	return b.subscribe(nil, handler)
}

func (b *LocalBus) subscribe(types []string, handler Handler) *subscription {
	sub := &subscription{
		id:      strconv.FormatInt(b.nextID.Add(1), 10),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Subscribing to a closed bus yields an inert subscription.
	if b.closed.Load() {
		sub.halt()
		return sub
	}

	b.subscriptions[sub.id] = sub
	if len(types) == 0 {
		b.wildcards[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*subscription)
			}
			b.byType[t][sub.id] = sub
		}
	}

	go sub.process()
	return sub
}

func (b *LocalBus) matching(eventType string) []*subscription {
	subs := make([]*subscription, 0, len(b.byType[eventType])+len(b.wildcards))
	for _, sub := range b.byType[eventType] {
		subs = append(subs, sub)
	}
	for _, sub := range b.wildcards {
		subs = append(subs, sub)
	}
	return subs
}

// Close stops every subscription. Events still buffered are discarded.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscriptions {
		sub.halt()
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *LocalBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

func (s *subscription) process() {
	for {
		select {
		case evt := <-s.events:
			if err := s.handler.Handle(context.Background(), evt); err != nil && s.bus.config.OnError != nil {
				s.bus.config.OnError(evt, s.id, err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) halt() {
	s.stop.Do(func() { close(s.done) })
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	delete(s.bus.wildcards, s.id)
	for _, t := range s.types {
		delete(s.bus.byType[t], s.id)
	}
	s.bus.mu.Unlock()

	s.halt()
}
