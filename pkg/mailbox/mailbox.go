// Package mailbox provides a small generic actor-handle abstraction: a
// Mailbox owns a buffered channel of messages, and an Address is a
// cloneable handle that can send into it. Components in this program
// (BoardPoller, ThreadUpdater, Fetcher, the archive database) are built as
// actors that own private state touched only from their own run loop, and
// reach each other only through Address values.
package mailbox

import "context"

// Mailbox is the receive side of an actor's message queue.
type Mailbox[T any] struct {
	ch chan T
}

// New allocates a mailbox with the given buffer capacity. Allocating the
// mailbox before the actor that owns it is constructed lets two actors with
// circular dependencies (Fetcher needs ThreadUpdater's address and
// vice-versa) bootstrap via "context-first" creation: allocate one side's
// mailbox, capture its Address, construct the other actor with that
// address, then finally construct the first actor around its pre-allocated
// mailbox.
func New[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// Address returns a cloneable send handle for this mailbox.
func (m *Mailbox[T]) Address() *Address[T] {
	return &Address[T]{ch: m.ch}
}

// Recv exposes the receive channel for use in an actor's central select
// loop.
func (m *Mailbox[T]) Recv() <-chan T {
	return m.ch
}

// Address is a cloneable handle that can send messages into a mailbox.
// Cloning an Address is just copying the struct; both copies share the same
// underlying channel.
type Address[T any] struct {
	ch chan<- T
}

// Send delivers a message, blocking (applying backpressure) if the
// mailbox's buffer is full, or returning early if ctx is done.
func (a *Address[T]) Send(ctx context.Context, msg T) error {
	select {
	case a.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers a message without blocking, reporting false if the
// mailbox's buffer is currently full.
func (a *Address[T]) TrySend(msg T) bool {
	select {
	case a.ch <- msg:
		return true
	default:
		return false
	}
}
