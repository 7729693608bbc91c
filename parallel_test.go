package statechart_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statecraft/statechart"
)

func regionsModel() statechart.Model {
	return statechart.Define(
		statechart.Parallel("p",
			statechart.State("r1",
				statechart.State("a"),
				statechart.Final("f1"),
				statechart.Initial("a"),
				statechart.Transition(statechart.Source("a"), statechart.Target("f1"), statechart.Trigger("x")),
			),
			statechart.State("r2",
				statechart.State("b"),
				statechart.Final("f2"),
				statechart.Initial("b"),
				statechart.Transition(statechart.Source("b"), statechart.Target("f2"), statechart.Trigger("y")),
			),
		),
		statechart.State("end"),
		statechart.Initial("p"),
		statechart.Transition(statechart.Source("p"), statechart.Target("/end")),
	)
}

func TestParallelEntryActivatesAllRegions(t *testing.T) {
	model := regionsModel()
	m := start(t, &model)
	require.True(t, m.In("/p"))
	require.True(t, m.In("/p/r1/a"))
	require.True(t, m.In("/p/r2/b"))
}

func TestParallelCompletionInOrder(t *testing.T) {
	model := regionsModel()
	m := start(t, &model)
	post(t, m, "x", "y")
	require.True(t, m.In("/end"))
}

func TestParallelCompletionReversed(t *testing.T) {
	model := regionsModel()
	m := start(t, &model)
	post(t, m, "y", "x")
	require.True(t, m.In("/end"))
}

func TestParallelPartialCompletion(t *testing.T) {
	model := regionsModel()
	m := start(t, &model)
	post(t, m, "x")
	require.Equal(t, []string{"/", "/p", "/p/r1", "/p/r1/f1", "/p/r2", "/p/r2/b"}, m.Configuration())
}

// One event can fire independent transitions in both regions of a parallel
// state within a single RTC step.
func TestRegionIndependence(t *testing.T) {
	trace := &recorder{}
	model := statechart.Define(
		statechart.Parallel("p",
			statechart.State("r1",
				statechart.State("a1"), statechart.State("a2"),
				statechart.Initial("a1"),
				statechart.Transition(statechart.Source("a1"), statechart.Target("a2"), statechart.Trigger("step"), statechart.Effect(trace.add("r1"))),
			),
			statechart.State("r2",
				statechart.State("b1"), statechart.State("b2"),
				statechart.Initial("b1"),
				statechart.Transition(statechart.Source("b1"), statechart.Target("b2"), statechart.Trigger("step"), statechart.Effect(trace.add("r2"))),
			),
		),
		statechart.Initial("p"),
	)
	m := start(t, &model)
	post(t, m, "step")
	require.True(t, m.In("/p/r1/a2"))
	require.True(t, m.In("/p/r2/b2"))
	require.Equal(t, []string{"r1", "r2"}, trace.list())
}

// A transition leaving the whole parallel state and a region-local one have
// overlapping exit sets, so only one fires: the one with the deeper source.
// Here the leaving transition starts deeper and the region one is suppressed.
func TestConflictingExitWins(t *testing.T) {
	trace := &recorder{}
	model := statechart.Define(
		statechart.Parallel("p",
			statechart.State("r1",
				statechart.State("a1", statechart.State("deep"), statechart.Initial("deep"),
					statechart.Transition(statechart.Source("deep"), statechart.Target("/out"), statechart.Trigger("e"), statechart.Effect(trace.add("deep"))),
				),
				statechart.Initial("a1"),
			),
			statechart.State("r2",
				statechart.State("b1"), statechart.State("b2"),
				statechart.Initial("b1"),
				statechart.Transition(statechart.Source("b1"), statechart.Target("b2"), statechart.Trigger("e"), statechart.Effect(trace.add("r2"))),
			),
		),
		statechart.State("out"),
		statechart.Initial("p"),
	)
	m := start(t, &model)
	post(t, m, "e")
	require.True(t, m.In("/out"))
	require.Equal(t, []string{"deep"}, trace.list(), "the deeper transition exits the parallel state; the region transition is suppressed")
}

func TestExitLeavesAllRegions(t *testing.T) {
	trace := &recorder{}
	model := statechart.Define(
		statechart.Parallel("p",
			statechart.State("r1", statechart.Exit(trace.add("r1.exit")),
				statechart.State("a"), statechart.Initial("a"),
			),
			statechart.State("r2", statechart.Exit(trace.add("r2.exit")),
				statechart.State("b"), statechart.Initial("b"),
			),
			statechart.Exit(trace.add("p.exit")),
		),
		statechart.State("off"),
		statechart.Initial("p"),
		statechart.Transition(statechart.Source("p"), statechart.Target("/off"), statechart.Trigger("q")),
	)
	m := start(t, &model)
	post(t, m, "q")
	require.True(t, m.In("/off"))
	require.Equal(t, []string{"r1.exit", "r2.exit", "p.exit"}, trace.list())
}
