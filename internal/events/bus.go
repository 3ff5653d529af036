package events

import (
	"sync"
)

// Bus fans engine events out to subscribers. Publishing never blocks the
// engine: a subscriber that falls behind loses events rather than stalling
// a monitoring cycle.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan *MonitorEvent
	nextID int
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan *MonitorEvent),
	}
}

// Subscribe registers a subscriber and returns its channel plus an
// unsubscribe function. bufSize bounds how far the subscriber may lag.
func (b *Bus) Subscribe(bufSize int) (<-chan *MonitorEvent, func()) {
	if bufSize <= 0 {
		bufSize = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *MonitorEvent, bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to all current subscribers without blocking.
func (b *Bus) Publish(event *MonitorEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than stall the engine.
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
