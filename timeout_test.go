package statechart_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/statecraft/statechart"
)

func after(d time.Duration) statechart.RedefinableElement {
	return statechart.After(func(ctx statechart.Context[context.Context]) time.Duration {
		return d
	})
}

// A state with a declared timeout transitions when the timer fires;
// unrelated events in the meantime change nothing.
func TestTimeout(t *testing.T) {
	model := statechart.Define(
		statechart.State("w"),
		statechart.State("out"),
		statechart.Initial("w"),
		statechart.Transition(statechart.Source("w"), statechart.Target("/out"), after(50*time.Millisecond)),
	)
	m := start(t, &model)
	post(t, m, "other")
	require.True(t, m.In("/w"))
	require.Eventually(t, func() bool { return m.In("/out") }, time.Second, 5*time.Millisecond)
}

// Exiting the source before the delay elapses disarms the timer.
func TestTimeoutDisarmedOnExit(t *testing.T) {
	model := statechart.Define(
		statechart.State("w"),
		statechart.State("safe"),
		statechart.State("late"),
		statechart.Initial("w"),
		statechart.Transition(statechart.Source("w"), statechart.Target("/late"), after(40*time.Millisecond)),
		statechart.Transition(statechart.Source("w"), statechart.Target("/safe"), statechart.Trigger("leave")),
	)
	m := start(t, &model)
	post(t, m, "leave")
	require.True(t, m.In("/safe"))
	time.Sleep(80 * time.Millisecond)
	require.True(t, m.Settle(time.Second))
	require.True(t, m.In("/safe"))
	require.False(t, m.In("/late"))
}

// Re-entering the state re-arms the timeout from scratch.
func TestTimeoutRearmsOnReentry(t *testing.T) {
	model := statechart.Define(
		statechart.State("w"),
		statechart.State("idle"),
		statechart.State("expired"),
		statechart.Initial("w"),
		statechart.Transition(statechart.Source("w"), statechart.Target("/expired"), after(40*time.Millisecond)),
		statechart.Transition(statechart.Source("w"), statechart.Target("/idle"), statechart.Trigger("pause")),
		statechart.Transition(statechart.Source("idle"), statechart.Target("/w"), statechart.Trigger("resume")),
	)
	m := start(t, &model)
	post(t, m, "pause")
	time.Sleep(60 * time.Millisecond)
	post(t, m, "resume")
	require.True(t, m.In("/w"), "stale timeout must not fire after re-entry")
	require.Eventually(t, func() bool { return m.In("/expired") }, time.Second, 5*time.Millisecond)
}

// A timeout expression derived from machine context.
func TestTimeoutExpression(t *testing.T) {
	model := statechart.Define(
		statechart.State("w"),
		statechart.State("out"),
		statechart.Initial("w"),
		statechart.Transition(statechart.Source("w"), statechart.Target("/out"),
			statechart.After(func(ctx statechart.Context[context.Context]) time.Duration {
				return ctx.Lookup("delay").(time.Duration)
			}),
		),
	)
	m := statechart.New(context.Background(), &model)
	m.Assign("delay", 20*time.Millisecond)
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Stop(); m.Join(time.Second) })
	require.Eventually(t, func() bool { return m.In("/out") }, time.Second, 5*time.Millisecond)
}
