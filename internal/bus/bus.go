// Package bus implements the typed in-process event bus used to connect the
// trading engine's components. Delivery is synchronous: Emit invokes every
// subscriber of the event type, in registration order, before returning.
package bus

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/coachpo/polytrade/internal/schema"
)

// Handler consumes a bus event. Handlers run on the emitting goroutine; a
// panicking handler is recovered and logged and never blocks later handlers.
type Handler func(evt schema.Event)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID uint64

// Bus is the synchronous fan-out dispatcher.
type Bus struct {
	logger *log.Logger

	mu     sync.Mutex
	nextID SubscriptionID
	subs   map[schema.EventType][]*subscriber
	closed bool
}

type subscriber struct {
	id      SubscriptionID
	typ     schema.EventType
	handler Handler
	once    bool
}

// New constructs an event bus.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stdout, "bus ", log.LstdFlags)
	}
	return &Bus{
		logger: logger,
		subs:   make(map[schema.EventType][]*subscriber),
	}
}

// On registers a handler for the event type and returns its subscription id.
func (b *Bus) On(typ schema.EventType, handler Handler) SubscriptionID {
	return b.subscribe(typ, handler, false)
}

// Once registers a handler delivered at most one time. The subscription is
// removed before the handler runs, so re-entrant emits cannot double-deliver.
func (b *Bus) Once(typ schema.EventType, handler Handler) SubscriptionID {
	return b.subscribe(typ, handler, true)
}

func (b *Bus) subscribe(typ schema.EventType, handler Handler, once bool) SubscriptionID {
	if handler == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, typ: typ, handler: handler, once: once}
	b.subs[typ] = append(b.subs[typ], sub)
	return sub.id
}

// Off removes the subscription. Removing an unknown id is a no-op.
func (b *Bus) Off(id SubscriptionID) {
	if id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[typ] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the payload to every subscriber of the type, in registration
// order. Once-subscriptions are unregistered before their handler runs.
func (b *Bus) Emit(typ schema.EventType, data any) {
	evt := schema.Event{Type: typ, Timestamp: time.Now().UTC(), Data: data}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := append([]*subscriber(nil), b.subs[typ]...)
	remaining := b.subs[typ][:0]
	for _, sub := range b.subs[typ] {
		if !sub.once {
			remaining = append(remaining, sub)
		}
	}
	b.subs[typ] = remaining
	b.mu.Unlock()

	for _, sub := range subs {
		b.dispatch(sub, evt)
	}
}

func (b *Bus) dispatch(sub *subscriber, evt schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("handler panic on %s (subscription %d): %v", evt.Type, sub.id, r)
		}
	}()
	sub.handler(evt)
}

// Close drops all subscriptions. Subsequent Emit and On calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[schema.EventType][]*subscriber)
}
