package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is what subscribers receive from the bus
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
}

// Handler receives events. Handlers run on the emitter's goroutine and must not block.
type Handler func(Event)

type subscription struct {
	handler Handler
	id      uint64
}

// Bus is an in-process publish/subscribe broker.
// A panicking handler is recovered and logged; the remaining handlers still run.
type Bus struct {
	log    zerolog.Logger
	byType map[EventType][]subscription
	all    []subscription
	nextID uint64
	mu     sync.RWMutex
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:    log.With().Str("component", "event_bus").Logger(),
		byType: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for one event type. The returned function unsubscribes it.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = removeSubscription(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSubscription(b.all, id)
	}
}

// Emit delivers an event to all matching subscribers and returns the number of handlers invoked
func (b *Bus) Emit(eventType EventType, module string, payload any) int {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Payload:   payload,
	}

	// Copy under the read lock so handlers may unsubscribe while being called
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[eventType])+len(b.all))
	for _, s := range b.byType[eventType] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.all {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
	return len(handlers)
}

// SubscriberCount returns the number of handlers registered for an event type, including catch-all handlers
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byType[eventType]) + len(b.all)
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
