package engine

import (
	"sync"

	"github.com/roach88/stampsync/internal/ir"
)

// arrivalQueue is a thread-safe FIFO queue of arrivals.
//
// The queue is unbounded so producers never block on a slow writer.
// Producers enqueue from any goroutine; only the Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type arrivalQueue struct {
	mu       sync.Mutex
	arrivals []ir.Arrival
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newArrivalQueue() *arrivalQueue {
	return &arrivalQueue{
		arrivals: make([]ir.Arrival, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an arrival to the back of the queue.
// Returns false if the queue is closed.
func (q *arrivalQueue) Enqueue(a ir.Arrival) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.arrivals = append(q.arrivals, a)

	// Non-blocking: the buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front arrival without blocking.
// Returns (ir.Arrival{}, false) if the queue is empty.
func (q *arrivalQueue) TryDequeue() (ir.Arrival, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.arrivals) == 0 {
		return ir.Arrival{}, false
	}

	a := q.arrivals[0]

	// Clear the slot so the backing array does not keep the payload alive.
	q.arrivals[0] = ir.Arrival{}

	if len(q.arrivals) == 1 {
		q.arrivals = q.arrivals[:0]
	} else {
		q.arrivals = q.arrivals[1:]
	}

	return a, true
}

// Wait returns a channel that signals when arrivals may be available.
// The channel is closed when the queue is closed.
func (q *arrivalQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *arrivalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.arrivals)
}

// Close stops further enqueues and wakes the Run loop.
// Arrivals already queued are still delivered.
func (q *arrivalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *arrivalQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
