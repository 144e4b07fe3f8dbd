// Package events is the in-process fan-out for engine lifecycle events.
// The metrics collector and the ops debug ring subscribe; subscribers are
// expected to be cheap because delivery is synchronous.
package events

import (
	"sync"
	"time"
)

// EventType names an engine event.
type EventType string

const (
	EventSignalEmitted           EventType = "SIGNAL_EMITTED"
	EventSignalRejected          EventType = "SIGNAL_REJECTED"
	EventLifecycleTransition     EventType = "LIFECYCLE_TRANSITION"
	EventTrailUpdated            EventType = "TRAIL_UPDATED"
	EventPositionOpened          EventType = "POSITION_OPENED"
	EventPositionClosed          EventType = "POSITION_CLOSED"
	EventReconciliationCompleted EventType = "RECONCILIATION_COMPLETED"
	EventJobCompleted            EventType = "JOB_COMPLETED"
	EventEngineError             EventType = "ENGINE_ERROR"
)

// Event is one published engine event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles published events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}

	b.mu.RLock()
	subs := b.subscribers[eventType]
	all := b.allSubs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
	for _, sub := range all {
		sub(event)
	}
}

// Ring is a bounded buffer of the most recent events, served by the ops
// debug endpoint.
type Ring struct {
	mu     sync.Mutex
	events []Event
	size   int
	next   int
	full   bool
}

// NewRing returns a ring holding the last size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{events: make([]Event, size), size: size}
}

// Record appends an event; suitable as a Bus subscriber.
func (r *Ring) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = e
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the buffered events, oldest first.
func (r *Ring) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, r.size)
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
