// Package bus is a process-wide broadcast channel for tunnel lifecycle
// events. Publishers never block; each subscriber owns a bounded queue
// and, on overflow, loses the oldest events and observes a lag count.
package bus

import (
	"sync"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

// DefaultCapacity is the per-subscriber queue bound.
const DefaultCapacity = 100

// Bus fans events out to all current subscribers.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	capacity int
	closed   bool
}

// Subscriber receives events on C. Lagged reports how many events were
// dropped because the queue was full; callers treat lag as a signal to
// reconcile via polling, never as fatal.
type Subscriber struct {
	C chan model.Event

	mu     sync.Mutex
	lagged uint64
	bus    *Bus
}

// New creates a bus with the given per-subscriber capacity; zero or
// negative means DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[*Subscriber]struct{}),
		capacity: capacity,
	}
}

// Subscribe registers a new subscriber starting from the next event.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		C:   make(chan model.Event, b.capacity),
		bus: b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every subscriber without blocking.
// A full queue drops its oldest event to make room and increments the
// subscriber's lag counter.
func (b *Bus) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			// Queue full: drop the oldest so the newest is kept.
			select {
			case <-sub.C:
				sub.mu.Lock()
				sub.lagged++
				sub.mu.Unlock()
			default:
			}
			select {
			case sub.C <- ev:
			default:
			}
		}
	}
}

// Close terminates every subscriber channel. Further publishes are
// no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.C)
		delete(b.subs, sub)
	}
}

// Lagged returns and resets the subscriber's dropped-event count.
func (s *Subscriber) Lagged() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lagged
	s.lagged = 0
	return n
}

// Unsubscribe removes the subscriber and closes its channel.
func (s *Subscriber) Unsubscribe() {
	b := s.bus
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.C)
	}
}
