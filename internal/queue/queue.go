// Package queue implements the bounded hand-off buffer between the frame
// producer and the paced consumer.
//
// Architecture:
//   - Fixed-capacity ring buffer guarded by one mutex
//   - sync.Cond for blocking waits (capacity for the producer, items for the consumer)
//   - Waits are bounded by a context, an optional timeout and Interrupt
//
// Ownership of an item moves into the queue on a successful TryPush and out
// of it on TryPop. Items removed by Drain are handed to the release function.
package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is a bounded FIFO safe for one producer and one consumer, plus any
// number of goroutines calling Len, Drain, Interrupt or Close.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
	head  int
	count int

	closed bool
	gen    uint64 // bumped by Interrupt

	release func(T)

	pushed   uint64
	popped   uint64
	rejected uint64
	drained  uint64
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth    int
	Capacity int
	Pushed   uint64
	Popped   uint64
	Rejected uint64
	Drained  uint64
	Closed   bool
}

// New creates a queue holding at most capacity items. release is called for
// every item removed by Drain; it may be nil.
func New[T any](capacity int, release func(T)) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		items:   make([]T, capacity),
		release: release,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TryPush appends v unless the queue is full or closed. On false the caller
// still owns v.
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.count == len(q.items) {
		q.rejected++
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
	q.pushed++
	q.cond.Broadcast()
	return true
}

// TryPop removes the oldest item.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.popped++
	q.cond.Broadcast()
	return v, true
}

// WaitCapacity blocks until there is room for one item. It returns false on
// cancellation, timeout, Interrupt or Close. A timeout <= 0 waits without a
// deadline.
func (q *Queue[T]) WaitCapacity(ctx context.Context, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wait(ctx, timeout, func() bool { return q.count < len(q.items) })
}

// WaitItem blocks until an item is available. Same exit conditions as
// WaitCapacity.
func (q *Queue[T]) WaitItem(ctx context.Context, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wait(ctx, timeout, func() bool { return q.count > 0 })
}

// wait is called with q.mu held.
func (q *Queue[T]) wait(ctx context.Context, timeout time.Duration, ready func() bool) bool {
	if q.closed {
		return false
	}
	if ready() {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	gen := q.gen
	expired := false

	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			expired = true
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}

	for !ready() && !q.closed && !expired && gen == q.gen && ctx.Err() == nil {
		q.cond.Wait()
	}
	return ready() && !q.closed
}

func (q *Queue[T]) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Interrupt wakes every goroutine blocked in a wait.
func (q *Queue[T]) Interrupt() {
	q.mu.Lock()
	q.gen++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Drain removes every buffered item, passes each to the release function
// and returns how many were removed.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	var zero T
	out := make([]T, 0, q.count)
	for q.count > 0 {
		out = append(out, q.items[q.head])
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.count--
	}
	q.head = 0
	q.drained += uint64(len(out))
	q.cond.Broadcast()
	q.mu.Unlock()

	if q.release != nil {
		for _, v := range out {
			q.release(v)
		}
	}
	return len(out)
}

// Close rejects further pushes and wakes all waiters. Buffered items stay
// until Drain.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:    q.count,
		Capacity: len(q.items),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Rejected: q.rejected,
		Drained:  q.drained,
		Closed:   q.closed,
	}
}
