// Package actor provides the message-passing primitive every subsystem of
// the client is built on: an unbounded FIFO mailbox drained by a single
// consumer goroutine.
//
// Sending never blocks, so effects running on other goroutines can deliver
// their results back into the same mailbox without risking a deadlock with
// the consumer that spawned them.
package actor

import (
	"context"
	"sync"

	"github.com/yllada/vpn-client/common"
)

// Mailbox is an unbounded FIFO queue with a single logical consumer.
type Mailbox[M any] struct {
	mu     sync.Mutex
	queue  []M
	signal chan struct{}
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox[M any]() *Mailbox[M] {
	return &Mailbox[M]{
		signal: make(chan struct{}, 1),
	}
}

// Send enqueues a message. It returns false if the mailbox is closed.
func (mb *Mailbox[M]) Send(msg M) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
	return true
}

// Receive returns the oldest message, waiting until one is available,
// the context is done, or the mailbox is closed and drained.
func (mb *Mailbox[M]) Receive(ctx context.Context) (M, error) {
	var zero M
	for {
		mb.mu.Lock()
		if len(mb.queue) > 0 {
			msg := mb.queue[0]
			mb.queue[0] = zero
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()
			return msg, nil
		}
		closed := mb.closed
		mb.mu.Unlock()

		if closed {
			return zero, common.ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-mb.signal:
		}
	}
}

// Len reports the number of queued messages.
func (mb *Mailbox[M]) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// Close stops accepting messages. Already queued messages can still be
// received.
func (mb *Mailbox[M]) Close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
}
