// Package notify provides the delivery worker behind store subscriptions
// and view updates: each subscriber gets values on its own goroutine, and
// bursts coalesce so only the newest value is delivered.
package notify

import "sync"

// Notifier hands values to fn one at a time from a dedicated goroutine.
// Send never blocks; a value sent before the previous one was delivered
// replaces it.
type Notifier[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending T
	dirty   bool
	closed  bool
}

// New starts the delivery goroutine for fn.
func New[T any](fn func(T)) *Notifier[T] {
	n := &Notifier[T]{}
	n.cond = sync.NewCond(&n.mu)
	go n.run(fn)
	return n
}

// Send queues v for delivery, replacing any undelivered value.
func (n *Notifier[T]) Send(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = v
	n.dirty = true
	n.cond.Signal()
}

// Close stops delivery. A value already queued may still be delivered.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.cond.Signal()
}

func (n *Notifier[T]) run(fn func(T)) {
	for {
		n.mu.Lock()
		for !n.dirty && !n.closed {
			n.cond.Wait()
		}
		if !n.dirty {
			n.mu.Unlock()
			return
		}
		v := n.pending
		n.dirty = false
		var zero T
		n.pending = zero
		n.mu.Unlock()
		fn(v)
	}
}
