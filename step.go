package statechart

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/statecraft/statechart/kind"
	"github.com/statecraft/statechart/pkg/set"
)

/******* Selection *******/

// selectEnabled computes the execution set for an external event: for every
// active region the deepest vertex with a triggered, guard-passing
// transition contributes one candidate; candidates whose exit sets overlap
// are resolved in favor of the deeper source, ties by declaration order.
func (m *Machine[T]) selectEnabled(event Event) []*transition {
	candidates := m.enabledWithin(m.model.QualifiedName(), event)
	if len(candidates) <= 1 {
		return candidates
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return depth(candidates[i].source) > depth(candidates[j].source)
	})
	var kept []*transition
	var tops []string
	for _, t := range candidates {
		top := m.exitTop(t)
		conflict := false
		for _, other := range tops {
			if top == "" || other == "" {
				continue
			}
			if top == other || IsAncestor(top, other) || IsAncestor(other, top) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, t)
			tops = append(tops, top)
		}
	}
	return kept
}

func (m *Machine[T]) enabledWithin(name string, event Event) []*transition {
	st := get[*state](m.model, name)
	if st == nil {
		return nil
	}
	if kind.IsKind(st.Kind(), kind.Parallel) {
		var transitions []*transition
		for _, region := range st.children {
			if m.configuration.Contains(region) {
				transitions = append(transitions, m.enabledWithin(region, event)...)
			}
		}
		if len(transitions) > 0 {
			return transitions
		}
		if t := m.localEnabled(&st.vertex, event); t != nil {
			return []*transition{t}
		}
		return nil
	}
	if child := m.activeStateChild(name); child != "" {
		if transitions := m.enabledWithin(child, event); len(transitions) > 0 {
			return transitions
		}
	}
	if t := m.localEnabled(&st.vertex, event); t != nil {
		return []*transition{t}
	}
	return nil
}

// activeStateChild returns the active child of a non-parallel composite that
// is itself a state, or "".
func (m *Machine[T]) activeStateChild(name string) string {
	st := get[*state](m.model, name)
	if st == nil {
		return ""
	}
	for _, child := range st.children {
		if !m.configuration.Contains(child) {
			continue
		}
		if el := m.model.namespace[child]; el != nil && kind.IsKind(el.Kind(), kind.State) {
			return child
		}
	}
	return ""
}

// localEnabled returns the first declared transition of the vertex whose
// trigger matches the event and whose guard passes. Completion transitions
// never match an external event, and timeout events are dropped unless they
// carry the currently armed token for their trigger.
func (m *Machine[T]) localEnabled(v *vertex, event Event) *transition {
	for _, name := range v.transitions {
		t := get[*transition](m.model, name)
		if t == nil {
			continue
		}
		if len(t.events) == 0 {
			continue
		}
		for _, trigger := range t.events {
			if kind.IsKind(trigger.Kind(), kind.TimeEvent) {
				if !kind.IsKind(event.Kind(), kind.TimeEvent) {
					continue
				}
				if trigger.Name() != event.Name() {
					continue
				}
				armed, ok := m.armed[trigger.Name()]
				if !ok || armed.token != event.Id() {
					continue
				}
			} else {
				if kind.IsKind(event.Kind(), kind.TimeEvent) {
					continue
				}
				if matched, err := path.Match(trigger.Name(), event.Name()); err != nil || !matched {
					continue
				}
			}
			if m.passes(t.guard, event) {
				return t
			}
			break
		}
	}
	return nil
}

// completionEnabled returns the first completion transition of the
// completed vertex whose guard passes.
func (m *Machine[T]) completionEnabled(name string) *transition {
	st := get[*state](m.model, name)
	if st == nil {
		return nil
	}
	for _, tq := range st.transitions {
		t := get[*transition](m.model, tq)
		if t != nil && t.completion(m.model) && m.passes(t.guard, nil) {
			return t
		}
	}
	return nil
}

// exitTop returns the topmost vertex of a transition's exit set, used to
// detect conflicting exit sets. For a local transition this is the source,
// whose active children are exited while the source stays active. Internal
// transitions exit nothing.
func (m *Machine[T]) exitTop(t *transition) string {
	if kind.IsKind(t.kind, kind.Internal) {
		return ""
	}
	lca := LCA(t.source, t.target)
	if t.source == lca {
		return t.source
	}
	return childOnPath(lca, t.source)
}

func (m *Machine[T]) passes(guardName string, event Event) (result bool) {
	c := get[*constraint[T]](m.model, guardName)
	if c == nil || c.expression == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("guard failed, treated as false", "guard", guardName, "panic", r)
			result = false
		}
	}()
	return c.expression(Context[T]{subcontext: m.subcontext, Machine: m}, event)
}

/******* Execution *******/

// compound runs a worklist of transitions as one atomic step. Pseudostate
// targets extend the worklist with their outgoing micro-transitions, so a
// chain through initial, junction, and history vertices executes with the
// outer exits performed once and the effects in traversal order.
func (m *Machine[T]) compound(event Event, worklist []*transition) {
	traversed := set.New[string]()
	for len(worklist) > 0 && !m.halted && m.err == nil {
		t := worklist[0]
		worklist = worklist[1:]
		if m.trace != nil {
			m.trace(m, "transition", t.source, t.target)()
		}
		if kind.IsKind(t.kind, kind.Internal) {
			m.effect(t, event)
			continue
		}
		lca := LCA(t.source, t.target)
		if el := m.model.namespace[lca]; el != nil && kind.IsKind(el.Kind(), kind.Parallel) && t.source != lca {
			m.fail(structuralf(t.qualifiedName, "transition from %s to %s crosses orthogonal regions", t.source, t.target))
			return
		}
		if t.source == lca {
			if st := get[*state](m.model, t.source); st != nil {
				for _, child := range st.children {
					if m.configuration.Contains(child) {
						m.exitVertex(child, event)
					}
				}
			}
		} else if top := childOnPath(lca, t.source); top != "" && m.configuration.Contains(top) {
			m.exitVertex(top, event)
		}
		if m.halted {
			return
		}
		m.effect(t, event)
		if m.halted || m.err != nil {
			return
		}
		var names []string
		for v := t.target; v != lca && v != "/" && v != ""; v = path.Dir(v) {
			names = append([]string{v}, names...)
		}
		if len(names) == 0 {
			// transition targeting an ancestor: re-run its default entry
			m.defaultEntry(t.target, event, &worklist, traversed)
			continue
		}
		for i, v := range names {
			next := ""
			if i+1 < len(names) {
				next = names[i+1]
			}
			m.enterVertex(v, event, v == t.target, next, &worklist, traversed)
			if m.halted || m.err != nil {
				return
			}
		}
	}
}

// enterVertex enters a vertex on the path toward a target. defaultEntry
// marks the target itself, which then descends into its initial substate;
// next names the following vertex on the explicit entry path so a parallel
// state knows which region is entered explicitly.
func (m *Machine[T]) enterVertex(name string, event Event, defaultEntry bool, next string, worklist *[]*transition, traversed set.Set[string]) {
	el := m.model.namespace[name]
	if el == nil {
		m.fail(structuralf(name, "missing vertex"))
		return
	}
	switch {
	case kind.IsKind(el.Kind(), kind.State):
		st := el.(*state)
		if m.configuration.Contains(name) {
			if !defaultEntry || m.activeChild(name) != "" {
				return
			}
		} else {
			m.enterShell(name, st, event)
		}
		if kind.IsKind(el.Kind(), kind.Parallel) {
			m.enterRegions(st, event, next, worklist, traversed)
			return
		}
		if defaultEntry {
			m.defaultEntry(name, event, worklist, traversed)
		}
	case kind.IsKind(el.Kind(), kind.Final):
		m.configuration.Add(name)
		if m.trace != nil {
			m.trace(m, "enter", name)()
		}
		m.postCompletion(path.Dir(name))
	case kind.IsKind(el.Kind(), kind.Terminate):
		m.halted = true
		m.shutdown()
	case kind.IsKind(el.Kind(), kind.Junction):
		if traversed.Contains(name) {
			m.fail(structuralf(name, "cycle in pseudostate chain"))
			return
		}
		traversed.Add(name)
		t := m.selectJunction(el.(*vertex), event)
		if t == nil {
			m.fail(structuralf(name, "junction deadlock: no satisfiable outgoing transition"))
			return
		}
		*worklist = append([]*transition{t}, *worklist...)
	case kind.IsKind(el.Kind(), kind.Initial):
		if traversed.Contains(name) {
			m.fail(structuralf(name, "cycle in pseudostate chain"))
			return
		}
		traversed.Add(name)
		v := el.(*vertex)
		if len(v.transitions) == 0 {
			m.fail(structuralf(name, "initial has no outgoing transition"))
			return
		}
		t := get[*transition](m.model, v.transitions[0])
		if t == nil {
			m.fail(structuralf(name, "missing transition %s", v.transitions[0]))
			return
		}
		*worklist = append([]*transition{t}, *worklist...)
	case kind.IsKind(el.Kind(), kind.History):
		if traversed.Contains(name) {
			m.fail(structuralf(name, "cycle in pseudostate chain"))
			return
		}
		traversed.Add(name)
		owner := path.Dir(name)
		if snap, ok := m.history[owner]; ok && len(snap.vertices) > 0 {
			m.restore(owner, snap, el.Kind(), event, worklist, traversed)
		} else if v := el.(*vertex); len(v.transitions) > 0 {
			if t := get[*transition](m.model, v.transitions[0]); t != nil {
				*worklist = append([]*transition{t}, *worklist...)
			}
		} else {
			m.defaultEntry(owner, event, worklist, traversed)
		}
	default:
		m.fail(structuralf(name, "cannot enter vertex of this kind"))
	}
}

// enterShell performs the entry bookkeeping of a state without descending:
// configuration, entry behavior, activity startup, timeout arming, and
// region tracking for parallel states.
func (m *Machine[T]) enterShell(name string, st *state, event Event) {
	m.configuration.Add(name)
	if m.trace != nil {
		m.trace(m, "enter", name)()
	}
	m.runBehavior(st.entry, event)
	m.startActivity(name, st, event)
	m.armTimers(st, event)
	if kind.IsKind(st.Kind(), kind.Parallel) {
		m.regions[name] = set.New(st.children...)
	}
}

// enterRegions enters every region of a parallel state except the one the
// explicit entry path continues into. Each region's descent is queued
// separately so the regions unfold in declaration order.
func (m *Machine[T]) enterRegions(st *state, event Event, next string, worklist *[]*transition, traversed set.Set[string]) {
	var pending []*transition
	for _, region := range st.children {
		if region == next {
			continue
		}
		var sub []*transition
		m.enterVertex(region, event, true, "", &sub, traversed)
		pending = append(pending, sub...)
		if m.halted || m.err != nil {
			return
		}
	}
	*worklist = append(pending, *worklist...)
}

// defaultEntry descends into a state's initial substate, or records its
// completion when there is nothing to descend into.
func (m *Machine[T]) defaultEntry(name string, event Event, worklist *[]*transition, traversed set.Set[string]) {
	st := get[*state](m.model, name)
	if st == nil {
		return
	}
	if kind.IsKind(st.Kind(), kind.Parallel) {
		m.enterRegions(st, event, "", worklist, traversed)
		return
	}
	if initial := get[*vertex](m.model, path.Join(name, ".initial")); initial != nil && len(initial.transitions) > 0 {
		if t := get[*transition](m.model, initial.transitions[0]); t != nil {
			*worklist = append([]*transition{t}, *worklist...)
			return
		}
	}
	m.postCompletion(name)
}

func (m *Machine[T]) selectJunction(v *vertex, event Event) *transition {
	var fallback *transition
	for _, name := range v.transitions {
		t := get[*transition](m.model, name)
		if t == nil {
			continue
		}
		if t.fallback {
			if fallback == nil {
				fallback = t
			}
			continue
		}
		if m.passes(t.guard, event) {
			return t
		}
	}
	return fallback
}

// activeChild returns the active direct child of a composite, or "".
func (m *Machine[T]) activeChild(name string) string {
	st := get[*state](m.model, name)
	if st == nil {
		return ""
	}
	for _, child := range st.children {
		if m.configuration.Contains(child) {
			return child
		}
	}
	return ""
}

/******* Exit *******/

// exitVertex exits a state and its active descendants, deepest first. A
// composite owning a history vertex snapshots its active subtree before the
// children exit.
func (m *Machine[T]) exitVertex(name string, event Event) {
	el := m.model.namespace[name]
	if el == nil || !m.configuration.Contains(name) {
		return
	}
	if st, ok := el.(*state); ok {
		for _, child := range st.children {
			if ch := m.model.namespace[child]; ch != nil && kind.IsKind(ch.Kind(), kind.History) {
				m.history[name] = m.snapshotOf(name)
				break
			}
		}
		for _, child := range st.children {
			if m.configuration.Contains(child) {
				m.exitVertex(child, event)
			}
		}
		m.disarmTimers(st)
		m.stopActivity(name)
		m.runBehavior(st.exit, event)
		delete(m.regions, name)
	}
	if m.trace != nil {
		m.trace(m, "exit", name)()
	}
	m.configuration.Remove(name)
}

// snapshotOf records the active descendants of a composite, parents before
// children, siblings in declaration order.
func (m *Machine[T]) snapshotOf(name string) *snapshot {
	snap := &snapshot{}
	var walk func(string)
	walk = func(parent string) {
		st := get[*state](m.model, parent)
		if st == nil {
			return
		}
		for _, child := range st.children {
			if !m.configuration.Contains(child) {
				continue
			}
			if parent == name && snap.child == "" {
				snap.child = child
			}
			snap.vertices = append(snap.vertices, child)
			walk(child)
		}
	}
	walk(name)
	return snap
}

// restore re-enters a composite through its history vertex.
func (m *Machine[T]) restore(owner string, snap *snapshot, historyKind uint64, event Event, worklist *[]*transition, traversed set.Set[string]) {
	if kind.IsKind(historyKind, kind.ShallowHistory) {
		m.enterVertex(snap.child, event, true, "", worklist, traversed)
		return
	}
	recorded := set.New(snap.vertices...)
	st := get[*state](m.model, owner)
	if st == nil {
		return
	}
	var pending []*transition
	for _, child := range st.children {
		if recorded.Contains(child) {
			var sub []*transition
			m.restoreSubtree(child, recorded, event, &sub, traversed)
			pending = append(pending, sub...)
		}
	}
	*worklist = append(pending, *worklist...)
}

func (m *Machine[T]) restoreSubtree(name string, recorded set.Set[string], event Event, worklist *[]*transition, traversed set.Set[string]) {
	el := m.model.namespace[name]
	if el == nil {
		return
	}
	st, ok := el.(*state)
	if !ok {
		// final or pseudostate recorded in the snapshot
		m.enterVertex(name, event, true, "", worklist, traversed)
		return
	}
	var active []string
	for _, child := range st.children {
		if recorded.Contains(child) {
			active = append(active, child)
		}
	}
	if len(active) == 0 {
		m.enterVertex(name, event, true, "", worklist, traversed)
		return
	}
	m.enterShell(name, st, event)
	var pending []*transition
	for _, child := range active {
		var sub []*transition
		m.restoreSubtree(child, recorded, event, &sub, traversed)
		pending = append(pending, sub...)
		if m.halted || m.err != nil {
			return
		}
	}
	*worklist = append(pending, *worklist...)
}

/******* Behaviors, activities, timers *******/

func (m *Machine[T]) effect(t *transition, event Event) {
	m.runBehavior(t.effect, event)
}

func (m *Machine[T]) runBehavior(name string, event Event) {
	b := get[*behavior[T]](m.model, name)
	if b == nil || b.action == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("behavior failed, continuing", "behavior", name, "panic", r)
		}
	}()
	b.action(Context[T]{subcontext: m.subcontext, Machine: m}, event)
}

func (m *Machine[T]) startActivity(name string, st *state, event Event) {
	b := get[*behavior[T]](m.model, st.activity)
	if b == nil || b.action == nil {
		return
	}
	ctx, cancel := context.WithCancel(m.subcontext)
	done := make(chan struct{})
	m.activities[name] = &activity{cancel: cancel, done: done}
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("activity failed", "activity", st.activity, "panic", r)
			}
		}()
		b.action(Context[T]{subcontext: ctx, Machine: m}, event)
	}()
}

func (m *Machine[T]) stopActivity(name string) {
	a, ok := m.activities[name]
	if !ok {
		return
	}
	delete(m.activities, name)
	a.cancel()
	<-a.done
}

// armTimers starts a one-shot timer for every timeout trigger on the
// state's outgoing transitions. Each arming carries a fresh token so a
// timeout that fires after its state exited is recognized as stale.
func (m *Machine[T]) armTimers(st *state, event Event) {
	for _, tq := range st.transitions {
		t := get[*transition](m.model, tq)
		if t == nil {
			continue
		}
		for _, trigger := range t.events {
			if !kind.IsKind(trigger.Kind(), kind.TimeEvent) {
				continue
			}
			expr, ok := trigger.Data().(func(Context[T]) time.Duration)
			if !ok {
				m.logger.Error("timeout expression has the wrong context type", "event", trigger.Name())
				continue
			}
			duration, ok := m.timeoutDuration(expr, trigger.Name())
			if !ok {
				continue
			}
			token := uuid.NewString()
			id := m.timers.Schedule(duration, newTimeEvent(trigger.Name(), token))
			m.armed[trigger.Name()] = armedTimer{token: token, id: id}
		}
	}
}

func (m *Machine[T]) timeoutDuration(expr func(Context[T]) time.Duration, name string) (duration time.Duration, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("timeout expression failed, timer not armed", "event", name, "panic", r)
			ok = false
		}
	}()
	return expr(Context[T]{subcontext: m.subcontext, Machine: m}), true
}

func (m *Machine[T]) disarmTimers(st *state) {
	for _, tq := range st.transitions {
		t := get[*transition](m.model, tq)
		if t == nil {
			continue
		}
		for _, trigger := range t.events {
			if !kind.IsKind(trigger.Kind(), kind.TimeEvent) {
				continue
			}
			if armed, ok := m.armed[trigger.Name()]; ok {
				m.timers.Cancel(armed.id)
				delete(m.armed, trigger.Name())
			}
		}
	}
}
