package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broker fans events out to live subscribers. A subscriber that falls
// behind loses events rather than blocking the publisher.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	buffer  int
	dropped atomic.Uint64
	closed  bool
}

// NewBroker returns a Broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a cancel function that closes
// it. The channel is also closed when ctx ends or the broker closes.
func (b *Broker) Subscribe(ctx context.Context) (<-chan Event, func()) {
	b.mu.Lock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- clone(e):
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers reports the number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber
// was full.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel.
func (b *Broker) Close() {
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
