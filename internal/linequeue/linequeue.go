// Package linequeue implements an ordered FIFO queue of text lines used to
// shuttle data between a running script's pipes and its HTTP consumer.
// A queue is safe for concurrent producers and consumers; closing it is the
// end-of-stream sentinel.
package linequeue

import (
	"errors"
	"sync"
	"time"
)

// ErrFull is returned by TryPut when a bounded queue is at capacity.
var ErrFull = errors.New("line queue full")

// ErrTimeout is returned by Get when no line arrived within the wait window.
var ErrTimeout = errors.New("line queue get timed out")

// ErrClosed is returned by Get once the queue is closed and fully drained.
var ErrClosed = errors.New("line queue closed")

// Queue is a FIFO of text lines. A capacity above zero bounds the queue;
// zero or negative means unbounded.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	lines    []string
	capacity int
	closed   bool
}

// New creates a queue. capacity <= 0 creates an unbounded queue.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put appends a line, blocking while a bounded queue is full.
// Lines put after Close are dropped.
func (q *Queue) Put(line string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.capacity > 0 && len(q.lines) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return
	}
	q.lines = append(q.lines, line)
	q.notEmpty.Signal()
}

// TryPut appends a line without blocking. Returns ErrFull when a bounded
// queue is at capacity and ErrClosed after Close.
func (q *Queue) TryPut(line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.capacity > 0 && len(q.lines) >= q.capacity {
		return ErrFull
	}
	q.lines = append(q.lines, line)
	q.notEmpty.Signal()
	return nil
}

// Get removes and returns the oldest line, waiting up to timeout for one to
// arrive. Returns ErrTimeout on expiry so callers can poll for external
// termination, or ErrClosed once the queue is closed and drained.
// A timeout <= 0 waits indefinitely (until a line or Close).
func (q *Queue) Get(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.lines) == 0 {
		if q.closed {
			return "", ErrClosed
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", ErrTimeout
			}
			q.waitWithTimeout(remaining)
		} else {
			q.notEmpty.Wait()
		}
	}

	line := q.lines[0]
	q.lines = q.lines[1:]
	q.notFull.Signal()
	return line, nil
}

// waitWithTimeout waits on notEmpty for at most d. Caller must hold q.mu.
func (q *Queue) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.notEmpty.Wait()
}

// Close marks the end of the stream. Pending lines remain readable; Get
// returns ErrClosed once they are drained. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len reports the number of queued lines.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}
