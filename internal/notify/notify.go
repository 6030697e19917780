// Package notify provides the best-effort fan-out channel used to push
// live rate-limit and queue status to observers. Publishing never blocks
// and never fails the originating operation: slow subscribers lose events.
package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the core.
const (
	EventRateLimitUpdate   = "rate_limit_update"
	EventQueueStatusUpdate = "queue_status_update"
)

// Event is one typed notification.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Hub fans events out to subscribers over bounded channels.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	buffer  int
	dropped atomic.Int64

	// Clock is overridable for tests.
	Clock func() time.Time
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new observer. The returned cancel func must be
// called to release the subscription; the channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for
// subscribers whose buffer is full.
func (h *Hub) Publish(eventType string, payload any) {
	if h == nil {
		return
	}

	event := Event{
		Type:    eventType,
		Payload: payload,
		At:      h.now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		select {
		case sub <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events discarded due to full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) now() time.Time {
	if h != nil && h.Clock != nil {
		return h.Clock()
	}
	return time.Now().UTC()
}
