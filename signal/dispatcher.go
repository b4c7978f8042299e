package signal

import (
	"sync"

	"callkit/internal/log"
)

// EventHandler receives one decoded server event.
type EventHandler func(ev *Event)

type handlerEntry struct {
	id uint64
	fn EventHandler
}

// Dispatcher demultiplexes inbound events by type. Handlers registered
// for a concrete type run before wildcard handlers, each group in
// registration order. Delivery is synchronous with the read loop, so
// handlers must not block on outbound signaling.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType][]handlerEntry
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventType][]handlerEntry)}
}

// On registers a handler for eventType, or for every event when
// eventType is EventAll. The returned func removes the registration.
func (d *Dispatcher) On(eventType EventType, fn EventHandler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], handlerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.off(eventType, id)
	}
}

func (d *Dispatcher) off(eventType EventType, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[eventType]
	for i, e := range entries {
		if e.id == id {
			d.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch delivers ev to all matching handlers. A panicking handler is
// logged and does not stop delivery to the remaining handlers.
func (d *Dispatcher) Dispatch(ev *Event) {
	d.mu.RLock()
	entries := make([]handlerEntry, 0, len(d.handlers[ev.Type])+len(d.handlers[EventAll]))
	entries = append(entries, d.handlers[ev.Type]...)
	entries = append(entries, d.handlers[EventAll]...)
	d.mu.RUnlock()

	for _, e := range entries {
		deliver(e.fn, ev)
	}
}

func deliver(fn EventHandler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("event handler panic on %s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}
