// Package clock abstracts timer creation so the scheduler can run against
// the wall clock in production and a virtual clock in tests.
package clock

import (
	"sync"
	"time"
)

type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// System returns a Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{timer: time.NewTimer(d)}
}

type systemTimer struct {
	timer *time.Timer
}

func (t *systemTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *systemTimer) Stop() bool {
	return t.timer.Stop()
}

func (t *systemTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

// Virtual is a manually advanced Clock. Advance moves the clock forward and
// fires every timer whose deadline has been reached.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	timers map[*virtualTimer]struct{}
}

func NewVirtual() *Virtual {
	return &Virtual{
		now:    time.Unix(0, 0),
		timers: map[*virtualTimer]struct{}{},
	}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	timer := &virtualTimer{
		clock:    v,
		ch:       make(chan time.Time, 1),
		deadline: v.now.Add(d),
		active:   true,
	}
	if d <= 0 {
		timer.active = false
		timer.ch <- v.now
	}
	v.timers[timer] = struct{}{}
	return timer
}

// Advance moves the virtual clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	now := v.now
	for timer := range v.timers {
		if timer.active && !timer.deadline.After(now) {
			timer.active = false
			select {
			case timer.ch <- now:
			default:
			}
		}
	}
	v.mu.Unlock()
}

type virtualTimer struct {
	clock    *Virtual
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *virtualTimer) C() <-chan time.Time {
	return t.ch
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.deadline = t.clock.now.Add(d)
	t.active = true
	select {
	case <-t.ch:
	default:
	}
	return was
}
