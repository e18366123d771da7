package connection

import "sync"

// Subscription receives events from one shard. The channel is closed when
// the subscription or the shard is closed.
type Subscription struct {
	ch   chan Event
	b    *broadcaster
	once sync.Once
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.unsubscribe(s) })
}

// broadcaster fans events out to subscribers without blocking the publisher.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	size   int
	closed bool
	onDrop func()
}

func newBroadcaster(size int, onDrop func()) *broadcaster {
	return &broadcaster{
		subs:   make(map[*Subscription]struct{}),
		size:   size,
		onDrop: onDrop,
	}
}

func (b *broadcaster) subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, b.size), b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// publish delivers e to every subscriber with room and returns how many dropped it.
func (b *broadcaster) publish(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			dropped++
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
	return dropped
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	clear(b.subs)
}
