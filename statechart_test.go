package statechart_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/statecraft/statechart"
	kinds "github.com/statecraft/statechart/kind"
)

const timeoutSecond = time.Second

// recorder collects behavior invocations on the consumer goroutine; tests
// read it after Settle or Join.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(name string) func(ctx statechart.Context[context.Context], event statechart.Event) {
	return func(ctx statechart.Context[context.Context], event statechart.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = append(r.entries, name)
	}
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.entries...)
}

func start(t *testing.T, model *statechart.Model, options ...statechart.Option[context.Context]) *statechart.Machine[context.Context] {
	t.Helper()
	m := statechart.New(context.Background(), model, options...)
	require.NoError(t, m.Start())
	require.True(t, m.Settle(time.Second), "initial configuration did not settle")
	t.Cleanup(func() {
		m.Stop()
		m.Join(time.Second)
	})
	return m
}

func post(t *testing.T, m *statechart.Machine[context.Context], names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, m.Post(statechart.NewEvent(name)))
	}
	require.True(t, m.Settle(time.Second), "machine did not settle")
}

func TestLCA(t *testing.T) {
	cases := []struct {
		a, b, expected string
	}{
		{"/s/s1", "/s/s2", "/s"},
		{"/s/s1", "/s/s1/s11", "/s/s1"},
		{"/s/s1", "/s/s1", "/s"},
		{"/s/s1/s11", "/s/s2/s21", "/s"},
		{"/a", "/b", "/"},
		{"/s", "", "/s"},
	}
	for _, c := range cases {
		if got := statechart.LCA(c.a, c.b); got != c.expected {
			t.Errorf("LCA(%s, %s) = %s, expected %s", c.a, c.b, got, c.expected)
		}
	}
}

func TestIsAncestor(t *testing.T) {
	require.True(t, statechart.IsAncestor("/", "/s"))
	require.True(t, statechart.IsAncestor("/s", "/s/s1/s11"))
	require.False(t, statechart.IsAncestor("/s/s1", "/s/s2"))
	require.False(t, statechart.IsAncestor("/s", "/s"))
	require.False(t, statechart.IsAncestor("/s/s1", "/s"))
}

func TestValidateMissingInitial(t *testing.T) {
	model := statechart.Define(
		statechart.State("c",
			statechart.State("x"),
		),
		statechart.Initial("c"),
	)
	m := statechart.New(context.Background(), &model)
	err := m.Start()
	require.Error(t, err)
	var structural *statechart.StructuralError
	require.ErrorAs(t, err, &structural)
	require.Equal(t, "/c", structural.Element)
}

func TestValidateMissingRootInitial(t *testing.T) {
	model := statechart.Define(
		statechart.State("a"),
	)
	m := statechart.New(context.Background(), &model)
	require.Error(t, m.Start())
}

func TestValidateParallelNeedsTwoRegions(t *testing.T) {
	model := statechart.Define(
		statechart.Parallel("p",
			statechart.State("only", statechart.State("x"), statechart.Initial("x")),
		),
		statechart.Initial("p"),
	)
	m := statechart.New(context.Background(), &model)
	require.Error(t, m.Start())
}

func TestValidateJunctionWithoutTransitions(t *testing.T) {
	model := statechart.Define(
		statechart.State("a"),
		statechart.Junction("j"),
		statechart.Initial("a"),
	)
	m := statechart.New(context.Background(), &model)
	require.Error(t, m.Start())
}

func TestStartTwice(t *testing.T) {
	model := statechart.Define(
		statechart.State("a"),
		statechart.Initial("a"),
	)
	m := start(t, &model)
	require.ErrorIs(t, m.Start(), statechart.ErrStarted)
}

func TestModelNamespaceKinds(t *testing.T) {
	model := statechart.Define(
		statechart.State("c",
			statechart.State("x"),
			statechart.Final("f"),
			statechart.Initial("x"),
			statechart.DeepHistory(),
		),
		statechart.Initial("c"),
	)
	namespace := model.Namespace()
	require.True(t, kinds.IsKind(namespace["/c"].Kind(), kinds.State))
	require.True(t, kinds.IsKind(namespace["/c/x"].Kind(), kinds.State))
	require.True(t, kinds.IsKind(namespace["/c/f"].Kind(), kinds.Final))
	require.True(t, kinds.IsKind(namespace["/c/.initial"].Kind(), kinds.Initial))
	require.True(t, kinds.IsKind(namespace["/c/.history"].Kind(), kinds.DeepHistory))
}
