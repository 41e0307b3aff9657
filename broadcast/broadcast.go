// Package broadcast implements single-producer, multi-consumer value
// streams. Each subscriber gets its own unbounded queue, so a slow consumer
// never drops values or blocks the producer, and every subscriber observes
// values in publish order.
package broadcast

import (
	"context"
	"sync"

	"github.com/yllada/vpn-client/actor"
)

// Broadcaster fans published values out to every subscriber.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[*Subscription[T]]struct{}
	latest    T
	hasLatest bool
	closed    bool
}

// New creates a broadcaster with no initial value.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Publish records v as the latest value and delivers it to all subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = v
	b.hasLatest = true
	for sub := range b.subs {
		sub.mb.Send(v)
	}
}

// Latest returns the most recently published value.
func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// Subscribe registers a new subscriber. The latest value, if any, is
// delivered first.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		owner: b,
		mb:    actor.NewMailbox[T](),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.mb.Close()
		return sub
	}
	if b.hasLatest {
		sub.mb.Send(b.latest)
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close ends every subscription. Queued values remain readable.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.mb.Close()
	}
	b.subs = nil
}

func (b *Broadcaster[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Subscription is one consumer's view of a Broadcaster.
type Subscription[T any] struct {
	owner *Broadcaster[T]
	mb    *actor.Mailbox[T]
	once  sync.Once
}

// Next returns the next value, blocking until one is published, ctx is
// done, or the subscription ends (common.ErrClosed).
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	return s.mb.Receive(ctx)
}

// Pending reports how many values are queued for this subscriber.
func (s *Subscription[T]) Pending() int {
	return s.mb.Len()
}

// Cancel unsubscribes. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.owner.remove(s)
		s.mb.Close()
	})
}
