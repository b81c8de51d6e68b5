// Package hub is the in-process multicast distributing events to live
// subscribers.
//
// Contract:
//   - Publish MUST be non-blocking: slow subscribers drop events rather than
//     stall the producer or their peers.
//   - Delivery is at-most-once, fire-and-forget. No replay for late joiners;
//     reconnecting observers resynchronize via the snapshot query.
//   - Per-subscriber order is preserved; there is no cross-subscriber
//     ordering guarantee.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	logx "wablast/pkg/logx"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
	log  logx.Logger
}

func New(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{subs: map[uint64]chan Event{}, log: log}
}

// Subscribe registers a sink and returns its channel plus an idempotent
// unsubscribe func. A greeting event is delivered before anything else so
// transports can confirm the stream is live.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	ch <- Hello(time.Now())

	id := h.seq.Add(1)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	h.log.Debug("subscriber added", logx.Int("count", h.Count()))

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
			h.log.Debug("subscriber removed", logx.Int("count", h.Count()))
		})
	}
	return ch, unsub
}

// Publish fans e out to every current subscriber, best effort. A failure to
// deliver to one subscriber (full buffer, concurrent unsubscribe) is
// isolated: it never propagates to the caller or to other subscribers.
func (h *Hub) Publish(e Event) {
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	h.mu.RLock()
	chs := make([]chan Event, 0, len(h.subs))
	for _, ch := range h.subs {
		chs = append(chs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop for slow subscribers. A subscriber may
		// unsubscribe concurrently and close its channel, so recover from a
		// possible send-on-closed panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				h.log.Debug("event dropped for slow subscriber", logx.String("event", e.Type))
			}
		}()
	}
}

// Count reports the current number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
