// Package queue implements a bounded FIFO queue of buffer.ChildPointer
// values, used by the protocol dispatcher to hand received packets to
// per-protocol consumers.
package queue

import (
	"context"
	"sync"
	"time"

	"spacewire-comms/buffer"
)

// Queue is a fixed-capacity FIFO of buffer.ChildPointer. Send never blocks
// the caller for longer than it takes to acquire the lock: when full, it
// reports overflow instead of blocking, matching the bounded-queue contract
// used by interrupt-context producers in the original design. Receive can
// block up to a timeout, or indefinitely when timeout is zero.
type Queue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	items    []buffer.ChildPointer
	capacity int
}

// NewQueue creates a queue holding up to capacity elements.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:    make([]buffer.ChildPointer, 0, capacity),
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
	}
}

// Capacity returns the maximum number of elements the queue can hold.
func (q *Queue) Capacity() int { return q.capacity }

// Len returns the number of elements currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TrySend appends p to the queue. It returns false without blocking if the
// queue is at capacity; the caller owns p's reference in that case and must
// release it.
func (q *Queue) TrySend(p buffer.ChildPointer) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return true
}

// Receive blocks until an element is available, the timeout elapses, or ctx
// is cancelled. timeout == 0 means block indefinitely (bounded only by ctx).
// ok is false on timeout or cancellation.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (p buffer.ChildPointer, ok bool) {
	for {
		if p, ok = q.tryPop(); ok {
			return p, true
		}

		var timeoutC <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			timeoutC = timer.C
		}

		select {
		case <-q.notEmpty:
			continue
		case <-timeoutC:
			return buffer.ChildPointer{}, false
		case <-ctx.Done():
			return buffer.ChildPointer{}, false
		}
	}
}

func (q *Queue) tryPop() (buffer.ChildPointer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return buffer.ChildPointer{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Drain releases and removes every queued element. Used during shutdown to
// avoid leaking pool elements held by abandoned queue entries.
func (q *Queue) Drain() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, it := range items {
		it.Release()
	}
}
