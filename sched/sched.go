// Package sched implements the one-shot timer scheduler that feeds timeout
// events back into a machine's queue. Entries live in a min-heap keyed by
// deadline; a single goroutine sleeps until the earliest deadline and hands
// expired events to the emit callback. Schedule and Cancel may be called
// from any goroutine.
package sched

import (
	"container/heap"
	"sync"
	"time"

	"github.com/statecraft/statechart/clock"
	"github.com/statecraft/statechart/embedded"
)

type entry struct {
	id       uint64
	deadline time.Time
	event    embedded.Event
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type Scheduler struct {
	mu      sync.Mutex
	clock   clock.Clock
	emit    func(embedded.Event)
	heap    entryHeap
	entries map[uint64]*entry
	nextID  uint64
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New starts a scheduler that delivers expired events through emit.
func New(c clock.Clock, emit func(embedded.Event)) *Scheduler {
	s := &Scheduler{
		clock:   c,
		emit:    emit,
		entries: map[uint64]*entry{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule arms a one-shot timer that emits event after d. The returned id
// can be passed to Cancel.
func (s *Scheduler) Schedule(d time.Duration, event embedded.Event) uint64 {
	s.mu.Lock()
	s.nextID++
	e := &entry{
		id:       s.nextID,
		deadline: s.clock.Now().Add(d),
		event:    event,
	}
	heap.Push(&s.heap, e)
	s.entries[e.id] = e
	s.mu.Unlock()
	s.signal()
	return e.id
}

// Cancel disarms a pending timer. Canceling an id that already fired or was
// already cancelled is a no-op.
func (s *Scheduler) Cancel(id uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		if e.index >= 0 {
			heap.Remove(&s.heap, e.index)
		}
	}
	s.mu.Unlock()
	if ok {
		s.signal()
	}
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Stop terminates the scheduler goroutine. Pending timers never fire.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		now := s.clock.Now()
		for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
			e := heap.Pop(&s.heap).(*entry)
			delete(s.entries, e.id)
			s.mu.Unlock()
			s.emit(e.event)
			s.mu.Lock()
		}
		var timer clock.Timer
		if len(s.heap) > 0 {
			timer = s.clock.NewTimer(s.heap[0].deadline.Sub(now))
		}
		s.mu.Unlock()
		if timer == nil {
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}
		select {
		case <-s.wake:
			timer.Stop()
		case <-timer.C():
		case <-s.done:
			timer.Stop()
			return
		}
	}
}
