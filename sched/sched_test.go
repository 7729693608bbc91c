package sched_test

import (
	"sync"
	"testing"
	"time"

	"github.com/statecraft/statechart/clock"
	"github.com/statecraft/statechart/embedded"
	"github.com/statecraft/statechart/sched"
)

type testEvent string

func (e testEvent) Kind() uint64 { return 0 }
func (e testEvent) Name() string { return string(e) }
func (e testEvent) Id() string   { return "" }
func (e testEvent) Data() any    { return nil }

type collector struct {
	mu    sync.Mutex
	names []string
	fired chan string
}

func newCollector() *collector {
	return &collector{fired: make(chan string, 16)}
}

func (c *collector) emit(event embedded.Event) {
	c.mu.Lock()
	c.names = append(c.names, event.Name())
	c.mu.Unlock()
	c.fired <- event.Name()
}

func (c *collector) wait(t *testing.T, expected string) {
	t.Helper()
	select {
	case name := <-c.fired:
		if name != expected {
			t.Fatalf("expected %s, got %s", expected, name)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", expected)
	}
}

func TestDeadlineOrder(t *testing.T) {
	v := clock.NewVirtual()
	c := newCollector()
	s := sched.New(v, c.emit)
	defer s.Stop()
	s.Schedule(30*time.Millisecond, testEvent("third"))
	s.Schedule(10*time.Millisecond, testEvent("first"))
	s.Schedule(20*time.Millisecond, testEvent("second"))
	v.Advance(10 * time.Millisecond)
	c.wait(t, "first")
	v.Advance(10 * time.Millisecond)
	c.wait(t, "second")
	v.Advance(10 * time.Millisecond)
	c.wait(t, "third")
}

func TestCancel(t *testing.T) {
	v := clock.NewVirtual()
	c := newCollector()
	s := sched.New(v, c.emit)
	defer s.Stop()
	id := s.Schedule(10*time.Millisecond, testEvent("cancelled"))
	s.Schedule(20*time.Millisecond, testEvent("kept"))
	s.Cancel(id)
	v.Advance(30 * time.Millisecond)
	c.wait(t, "kept")
	if s.Len() != 0 {
		t.Fatalf("expected no pending entries, have %d", s.Len())
	}
}

func TestCancelFiredIsNoop(t *testing.T) {
	v := clock.NewVirtual()
	c := newCollector()
	s := sched.New(v, c.emit)
	defer s.Stop()
	id := s.Schedule(time.Millisecond, testEvent("fired"))
	v.Advance(time.Millisecond)
	c.wait(t, "fired")
	s.Cancel(id)
}

func TestStopDropsPending(t *testing.T) {
	v := clock.NewVirtual()
	c := newCollector()
	s := sched.New(v, c.emit)
	s.Schedule(10*time.Millisecond, testEvent("never"))
	s.Stop()
	time.Sleep(10 * time.Millisecond)
	v.Advance(20 * time.Millisecond)
	select {
	case name := <-c.fired:
		t.Fatalf("event %s fired after Stop", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSystemClock(t *testing.T) {
	c := newCollector()
	s := sched.New(clock.System(), c.emit)
	defer s.Stop()
	s.Schedule(5*time.Millisecond, testEvent("tick"))
	c.wait(t, "tick")
}
