package events

import (
	"sync"
	"sync/atomic"

	"grimm.is/warden/internal/clock"
)

// DefaultHistory is the number of recent events a hub retains.
const DefaultHistory = 128

// Hub fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[EventType][]chan Event
	global []chan Event

	histMu  sync.Mutex
	history []Event
	histCap int

	clock     clock.Clock
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub remembering the last DefaultHistory events.
func NewHub() *Hub {
	return NewHubWithClock(nil)
}

// NewHubWithClock creates a hub stamping events with c.
func NewHubWithClock(c clock.Clock) *Hub {
	return &Hub{
		subs:    make(map[EventType][]chan Event),
		histCap: DefaultHistory,
		clock:   clock.OrReal(c),
	}
}

// Publish sends an event to all subscribers of its type.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.clock.Now()
	}
	h.published.Add(1)
	h.remember(e)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[e.Type] {
		h.send(ch, e)
	}
	for _, ch := range h.global {
		h.send(ch, e)
	}
}

func (h *Hub) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) remember(e Event) {
	h.histMu.Lock()
	defer h.histMu.Unlock()
	if len(h.history) == h.histCap {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.histCap-1]
	}
	h.history = append(h.history, e)
}

// Recent returns up to n of the most recent events, oldest first.
func (h *Hub) Recent(n int) []Event {
	h.histMu.Lock()
	defer h.histMu.Unlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]Event, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Subscribe returns a channel that receives events of the specified types.
// If no types are specified, subscribes to all events.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes a channel from all subscriptions.
// The channel is NOT closed by this method.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// Notify publishes a progress line for a pass.
func (h *Hub) Notify(passID, message string) {
	h.Publish(Event{
		Type:   EventProgress,
		Source: "controller",
		Data:   ProgressData{PassID: passID, Message: message},
	})
}

// PassStarted publishes the start of an enable or disable pass.
func (h *Hub) PassStarted(passID, kind string) {
	h.Publish(Event{
		Type:   EventPassStarted,
		Source: "controller",
		Data:   PassData{PassID: passID, Kind: kind},
	})
}

// PassFinished publishes the outcome of a pass.
func (h *Hub) PassFinished(passID, kind string, err error) {
	data := PassData{PassID: passID, Kind: kind}
	if err != nil {
		data.Error = err.Error()
	}
	h.Publish(Event{Type: EventPassFinished, Source: "controller", Data: data})
}
