// Package event carries workflow notifications from a running session to
// observers such as websocket clients or the chat CLI.
//
// # Events
//
// Every event has an ID, a type, a source and a correlation ID. The
// correlation ID groups the events of one session; an event created with
// NewFromParent inherits its parent's correlation ID and records the parent
// as its cause.
//
//	evt := event.New("state.updated", "tools", update,
//	    event.WithCorrelationID(sessionID))
//
// # Bus
//
// LocalBus fans each published event out to every matching subscription.
// Each subscription has its own buffered channel and goroutine, so a slow
// handler delays only itself. Publish blocks while a buffer is full unless
// the bus is NonBlocking, in which case the event is dropped and OnDrop is
// called.
//
//	bus := event.NewBus(event.DefaultBusConfig)
//	sub := bus.Subscribe([]string{"state.updated"}, event.HandlerFunc(
//	    func(ctx context.Context, evt event.Event) error {
//	        log.Println(evt.Type(), evt.CorrelationID())
//	        return nil
//	    }))
//	defer sub.Unsubscribe()
package event
