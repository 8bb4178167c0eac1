package event

import (
	"sync"
	"sync/atomic"
)

// Bus fans out events to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the miss is counted, so a slow
// collaborator can stall neither workers nor other subscribers. Status
// queries against the facade remain the source of truth; the bus is a
// notification edge, not a durable log.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is a single subscriber's view of the bus.
type Subscription struct {
	// C delivers events. It is closed when the subscription is closed.
	C <-chan Event

	bus *Bus
	ch  chan Event

	closeOnce sync.Once
}

// Subscribe registers a new subscriber with the given channel buffer size.
// A buffer of zero is raised to one so a single event never drops purely
// from timing.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, bus: b, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Close removes the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers evt to every subscriber that has buffer room.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total number of events missed by slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
