package clock_test

import (
	"testing"
	"time"

	"github.com/statecraft/statechart/clock"
)

func TestSystemTimer(t *testing.T) {
	c := clock.System()
	timer := c.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("system timer did not fire")
	}
}

func TestVirtualAdvance(t *testing.T) {
	v := clock.NewVirtual()
	timer := v.NewTimer(10 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired before the clock advanced")
	default:
	}
	v.Advance(5 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired too early")
	default:
	}
	v.Advance(5 * time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestVirtualStop(t *testing.T) {
	v := clock.NewVirtual()
	timer := v.NewTimer(time.Millisecond)
	if !timer.Stop() {
		t.Fatal("expected Stop to report the timer active")
	}
	v.Advance(time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestVirtualImmediate(t *testing.T) {
	v := clock.NewVirtual()
	timer := v.NewTimer(0)
	select {
	case <-timer.C():
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
}

func TestVirtualNow(t *testing.T) {
	v := clock.NewVirtual()
	before := v.Now()
	v.Advance(time.Minute)
	if v.Now().Sub(before) != time.Minute {
		t.Fatal("Now did not advance")
	}
}
