package statechart_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statecraft/statechart"
)

func historyModel(history statechart.RedefinableElement) statechart.Model {
	return statechart.Define(
		statechart.State("c",
			statechart.State("d",
				statechart.State("d1"),
				statechart.State("d2"),
				statechart.Initial("d1"),
				statechart.Transition(statechart.Source("d1"), statechart.Target("d2"), statechart.Trigger("d")),
			),
			statechart.State("e"),
			statechart.Initial("d"),
			history,
		),
		statechart.State("off"),
		statechart.Initial("c"),
		statechart.Transition(statechart.Source("c"), statechart.Target("/off"), statechart.Trigger("out")),
		statechart.Transition(statechart.Source("off"), statechart.Target("/c/.history"), statechart.Trigger("back")),
	)
}

// Deep history restores the exact leaf configuration recorded at the most
// recent exit.
func TestDeepHistory(t *testing.T) {
	model := historyModel(statechart.DeepHistory())
	m := start(t, &model)
	post(t, m, "d")
	require.True(t, m.In("/c/d/d2"))
	post(t, m, "out")
	require.True(t, m.In("/off"))
	post(t, m, "back")
	require.True(t, m.In("/c"))
	require.True(t, m.In("/c/d"))
	require.True(t, m.In("/c/d/d2"))
	require.False(t, m.In("/c/d/d1"))
	require.False(t, m.In("/c/e"))
}

// Shallow history restores only the direct child; the child itself comes
// back through its own initial vertex.
func TestShallowHistory(t *testing.T) {
	model := historyModel(statechart.ShallowHistory())
	m := start(t, &model)
	post(t, m, "d", "out", "back")
	require.True(t, m.In("/c/d"))
	require.True(t, m.In("/c/d/d1"))
	require.False(t, m.In("/c/d/d2"))
}

// With no snapshot the history vertex follows its default transition.
func TestHistoryDefaultTransition(t *testing.T) {
	model := statechart.Define(
		statechart.State("a"),
		statechart.State("c",
			statechart.State("x"),
			statechart.State("y"),
			statechart.Initial("x"),
			statechart.DeepHistory(statechart.Transition(statechart.Target("y"))),
		),
		statechart.Initial("a"),
		statechart.Transition(statechart.Source("a"), statechart.Target("/c/.history"), statechart.Trigger("h")),
	)
	m := start(t, &model)
	post(t, m, "h")
	require.True(t, m.In("/c/y"))
	require.False(t, m.In("/c/x"))
}

// With neither snapshot nor default transition the composite's own initial
// vertex is used.
func TestHistoryFallsBackToDefaultEntry(t *testing.T) {
	model := statechart.Define(
		statechart.State("a"),
		statechart.State("c",
			statechart.State("x"),
			statechart.State("y"),
			statechart.Initial("x"),
			statechart.DeepHistory(),
		),
		statechart.Initial("a"),
		statechart.Transition(statechart.Source("a"), statechart.Target("/c/.history"), statechart.Trigger("h")),
	)
	m := start(t, &model)
	post(t, m, "h")
	require.True(t, m.In("/c/x"))
}

// The snapshot reflects the most recent exit, not the first.
func TestHistoryTracksLatestExit(t *testing.T) {
	model := historyModel(statechart.DeepHistory())
	m := start(t, &model)
	post(t, m, "d", "out", "back")
	require.True(t, m.In("/c/d/d2"))
	// leave again while d2 is active, return, still d2
	post(t, m, "out", "back")
	require.True(t, m.In("/c/d/d2"))
}
