// Package queue implements the event queue shared between producers and the
// machine's consumer goroutine. It is an unbounded FIFO guarded by a mutex
// and condition variables; the queue is the only synchronization point
// between producers and the consumer.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/statecraft/statechart/embedded"
)

// ErrClosed is returned by Push once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

type Queue struct {
	mu      sync.Mutex
	avail   *sync.Cond
	settled *sync.Cond
	events  []embedded.Event
	waiting int
	closed  bool
}

func New() *Queue {
	q := &Queue{}
	q.avail = sync.NewCond(&q.mu)
	q.settled = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. It never blocks beyond mutex acquisition.
func (q *Queue) Push(event embedded.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.events = append(q.events, event)
	q.avail.Signal()
	return nil
}

// Pop blocks until an event is available or the queue is closed. After Close
// any still-buffered events are discarded and Pop reports false.
func (q *Queue) Pop() (embedded.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.waiting++
		q.settled.Broadcast()
		q.avail.Wait()
		q.waiting--
	}
	if q.closed {
		return nil, false
	}
	event := q.events[0]
	q.events = q.events[1:]
	return event, true
}

// Close marks the queue closed and wakes every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.avail.Broadcast()
	q.settled.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Settle blocks until the queue is empty with a consumer waiting for the
// next event, the queue is closed, or the timeout elapses. It reports
// whether the queue settled.
func (q *Queue) Settle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.settled.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed || (len(q.events) == 0 && q.waiting > 0) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		q.settled.Wait()
	}
}
