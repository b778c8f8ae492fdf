// Package events fans relay notifications out to display subscribers
package events

import (
	"sync"

	"github.com/dougsko/steppird/pkg/logging"
	"github.com/dougsko/steppird/pkg/protocol"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 64

// Hub delivers published events to every subscriber. Publish never blocks:
// a subscriber whose queue is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan protocol.Event
	nextID      int
	buffer      int
	closed      bool

	log *logging.ComponentLogger
}

// NewHub creates a hub with buffer events queued per subscriber
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subscribers: make(map[int]chan protocol.Event),
		buffer:      buffer,
		log:         logging.For("events"),
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan protocol.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan protocol.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publish sends event to every subscriber that has room for it
func (h *Hub) Publish(event protocol.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.log.Debugf("subscriber %d is slow, dropping %s event", id, event.Type)
		}
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close unsubscribes everyone
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
