package statechart

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/statecraft/statechart/kind"
)

func ownerState(stack []Element, builder string) *state {
	owner := find(stack, kind.State)
	if owner == nil {
		slog.Error("builder requires an enclosing state", "builder", builder)
		panic(structuralf("", "%s must be called within a StateMachine or State", builder))
	}
	switch typed := owner.(type) {
	case *state:
		return typed
	case *Model:
		return &typed.state
	}
	panic(structuralf(owner.QualifiedName(), "%s must be called within a StateMachine or State", builder))
}

func register(model *Model, el Element) {
	if _, exists := model.namespace[el.QualifiedName()]; exists {
		slog.Error("duplicate element", "id", el.QualifiedName())
		panic(structuralf(el.QualifiedName(), "element already exists"))
	}
	model.namespace[el.QualifiedName()] = el
}

// State declares a state under the enclosing composite. Nested builders give
// it children, behaviors, and transitions.
func State(name string, partialElements ...RedefinableElement) RedefinableElement {
	return newState(kind.State, name, partialElements)
}

// Parallel declares an orthogonal state whose children are regions entered
// concurrently.
func Parallel(name string, partialElements ...RedefinableElement) RedefinableElement {
	return newState(kind.Parallel, name, partialElements)
}

func newState(stateKind uint64, name string, partialElements []RedefinableElement) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "State")
		element := &state{
			vertex: vertex{element: element{kind: stateKind, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()}},
		}
		register(model, element)
		owner.children = append(owner.children, element.QualifiedName())
		stack = append(stack, element)
		apply(model, stack, partialElements...)
		return element
	}
}

// Final declares the final vertex of the enclosing region. Entering it
// completes the region.
func Final(name string) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "Final")
		element := &vertex{
			element: element{kind: kind.Final, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()},
		}
		register(model, element)
		owner.children = append(owner.children, element.QualifiedName())
		return element
	}
}

// Terminate declares a terminate vertex. Entering it halts the machine
// immediately, without running any further exit behavior.
func Terminate(maybeName ...string) RedefinableElement {
	name := ".terminate"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "Terminate")
		element := &vertex{
			element: element{kind: kind.Terminate, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()},
		}
		register(model, element)
		owner.children = append(owner.children, element.QualifiedName())
		return element
	}
}

// Junction declares a static conditional branch. Its outgoing transitions
// carry guards only; at most one may be marked Else.
func Junction[T interface{ RedefinableElement | string }](elementOrName T, partialElements ...RedefinableElement) RedefinableElement {
	name := ""
	switch any(elementOrName).(type) {
	case string:
		name = any(elementOrName).(string)
	case RedefinableElement:
		partialElements = append([]RedefinableElement{any(elementOrName).(RedefinableElement)}, partialElements...)
	}
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "Junction")
		if name == "" {
			name = fmt.Sprintf("junction_%d", len(model.namespace))
		}
		element := &vertex{
			element: element{kind: kind.Junction, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()},
		}
		register(model, element)
		owner.children = append(owner.children, element.QualifiedName())
		stack = append(stack, element)
		apply(model, stack, partialElements...)
		return element
	}
}

// ShallowHistory declares a history vertex restoring the direct child that
// was active when the enclosing composite last exited.
func ShallowHistory(partialElements ...RedefinableElement) RedefinableElement {
	return newHistory(kind.ShallowHistory, partialElements)
}

// DeepHistory declares a history vertex restoring the full active subtree of
// the enclosing composite.
func DeepHistory(partialElements ...RedefinableElement) RedefinableElement {
	return newHistory(kind.DeepHistory, partialElements)
}

func newHistory(historyKind uint64, partialElements []RedefinableElement) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "History")
		if kind.IsKind(owner.Kind(), kind.Parallel) {
			panic(structuralf(owner.QualifiedName(), "history cannot be a region of a parallel state"))
		}
		for _, child := range owner.children {
			if existing, ok := model.namespace[child]; ok && kind.IsKind(existing.Kind(), kind.History) {
				panic(structuralf(owner.QualifiedName(), "composite already has a history vertex"))
			}
		}
		element := &vertex{
			element: element{kind: historyKind, qualifiedName: path.Join(owner.QualifiedName(), ".history"), id: uuid.NewString()},
		}
		register(model, element)
		owner.children = append(owner.children, element.QualifiedName())
		stack = append(stack, element)
		apply(model, stack, partialElements...)
		return element
	}
}

// Initial designates the default child of the enclosing composite, either by
// relative name or by building the child in place. The implicit transition
// from the initial vertex may carry an Effect but never a guard or trigger.
func Initial[T interface{ string | RedefinableElement }](targetOrElement T, partialElements ...RedefinableElement) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "Initial")
		initial := &vertex{
			element: element{kind: kind.Initial, qualifiedName: path.Join(owner.QualifiedName(), ".initial"), id: uuid.NewString()},
		}
		if model.namespace[initial.QualifiedName()] != nil {
			panic(structuralf(owner.QualifiedName(), "composite already has an initial vertex"))
		}
		register(model, initial)
		owner.children = append(owner.children, initial.QualifiedName())
		var target string
		switch t := any(targetOrElement).(type) {
		case string:
			target = t
			if !path.IsAbs(target) {
				target = path.Join(owner.QualifiedName(), target)
			}
		case RedefinableElement:
			targetElement := t(model, stack)
			if targetElement == nil {
				panic(structuralf(initial.QualifiedName(), "initial target is nil"))
			}
			target = targetElement.QualifiedName()
		}
		parts := append([]RedefinableElement{Target(target)}, partialElements...)
		element := Transition(Source(initial.QualifiedName()), parts...)(model, append(stack, initial))
		transition := element.(*transition)
		if transition.guard != "" {
			panic(structuralf(initial.QualifiedName(), "initial cannot have a guard"))
		}
		if len(transition.events) > 0 {
			panic(structuralf(initial.QualifiedName(), "initial cannot have triggers"))
		}
		if !IsAncestor(owner.QualifiedName(), target) {
			panic(structuralf(initial.QualifiedName(), "initial must target a nested vertex, not %s", target))
		}
		return transition
	}
}

// Transition declares an edge. Without Source it originates from the
// enclosing vertex; without Target it is internal; without Trigger it fires
// on completion of its source (or links a pseudostate chain).
func Transition[T interface{ RedefinableElement | string }](nameOrPartialElement T, partialElements ...RedefinableElement) RedefinableElement {
	name := ""
	switch any(nameOrPartialElement).(type) {
	case string:
		name = any(nameOrPartialElement).(string)
	case RedefinableElement:
		partialElements = append([]RedefinableElement{any(nameOrPartialElement).(RedefinableElement)}, partialElements...)
	}
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Vertex)
		if owner == nil {
			panic(structuralf("", "Transition must be called within a State or vertex"))
		}
		transitionName := name
		if transitionName == "" {
			transitionName = fmt.Sprintf("transition_%d", len(model.namespace))
		}
		transition := &transition{
			element: element{kind: kind.Transition, qualifiedName: path.Join(owner.QualifiedName(), transitionName), id: uuid.NewString()},
		}
		register(model, transition)
		stack = append(stack, transition)
		apply(model, stack, partialElements...)
		if transition.source == "" {
			transition.source = owner.QualifiedName()
		}
		// Attachment and kind resolution wait until the whole batch has been
		// applied so forward references to source and target resolve.
		model.Push(func(model *Model, stack []Element) Element {
			sourceElement, ok := model.namespace[transition.source]
			if !ok {
				panic(structuralf(transition.QualifiedName(), "missing source %s", transition.source))
			}
			if transition.target != "" {
				if _, ok := model.namespace[transition.target]; !ok {
					panic(structuralf(transition.QualifiedName(), "missing target %s", transition.target))
				}
			}
			if len(transition.events) > 0 && kind.IsKind(sourceElement.Kind(), kind.Pseudostate) {
				panic(structuralf(transition.QualifiedName(), "transitions out of a pseudostate cannot have triggers"))
			}
			switch source := sourceElement.(type) {
			case *state:
				source.transitions = append(source.transitions, transition.QualifiedName())
			case *vertex:
				source.transitions = append(source.transitions, transition.QualifiedName())
			default:
				panic(structuralf(transition.QualifiedName(), "source %s is not a vertex", transition.source))
			}
			if transition.target == transition.source {
				transition.kind = kind.Self
			} else if transition.target == "" {
				transition.kind = kind.Internal
			} else if IsAncestor(transition.source, transition.target) {
				transition.kind = kind.Local
			} else {
				transition.kind = kind.External
			}
			return transition
		})
		return transition
	}
}

// Source names the transition's source vertex, relative to the enclosing
// state unless absolute.
func Source[T interface{ RedefinableElement | string }](nameOrPartialElement T) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			panic(structuralf("", "Source must be called within a Transition"))
		}
		transition := owner.(*transition)
		var name string
		switch source := any(nameOrPartialElement).(type) {
		case string:
			name = source
			if !path.IsAbs(name) {
				if ancestor := find(stack, kind.State); ancestor != nil {
					name = path.Join(ancestor.QualifiedName(), name)
				}
			}
		case RedefinableElement:
			element := source(model, stack)
			if element == nil {
				panic(structuralf(transition.QualifiedName(), "source is nil"))
			}
			name = element.QualifiedName()
		}
		transition.source = name
		return owner
	}
}

// Target names the transition's target vertex, relative to the enclosing
// state unless absolute.
func Target[T interface{ RedefinableElement | string }](nameOrPartialElement T) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			panic(structuralf("", "Target must be called within a Transition"))
		}
		transition := owner.(*transition)
		if transition.target != "" {
			panic(structuralf(transition.QualifiedName(), "transition already has target %s", transition.target))
		}
		var qualifiedName string
		switch target := any(nameOrPartialElement).(type) {
		case string:
			qualifiedName = target
			if !path.IsAbs(qualifiedName) {
				if ancestor := find(stack, kind.State); ancestor != nil {
					qualifiedName = path.Join(ancestor.QualifiedName(), qualifiedName)
				}
			}
		case RedefinableElement:
			targetElement := target(model, stack)
			if targetElement == nil {
				panic(structuralf(transition.QualifiedName(), "target is nil"))
			}
			qualifiedName = targetElement.QualifiedName()
		}
		transition.target = qualifiedName
		return transition
	}
}

// Trigger adds event triggers to the transition. A plain string matches
// event names through path.Match, so an event literal is its own equality
// trigger and "*" acts as a wildcard.
func Trigger[T interface{ string | *event }](events ...T) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			panic(structuralf("", "Trigger must be called within a Transition"))
		}
		transition := owner.(*transition)
		for _, eventOrName := range events {
			switch value := any(eventOrName).(type) {
			case string:
				transition.events = append(transition.events, &event{
					element: element{kind: kind.Event, qualifiedName: value},
				})
			case *event:
				transition.events = append(transition.events, value)
			}
		}
		return owner
	}
}

// After adds a timeout trigger. The expression is evaluated on each entry of
// the source state; a one-shot timer with the resulting delay is armed and
// disarmed again when the state exits.
func After[T context.Context](expr func(ctx Context[T]) time.Duration, maybeName ...string) RedefinableElement {
	name := ".after"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			panic(structuralf("", "After must be called within a Transition"))
		}
		transition := owner.(*transition)
		qualifiedName := path.Join(transition.QualifiedName(), strconv.Itoa(len(transition.events)), name)
		transition.events = append(transition.events, &event{
			element: element{kind: kind.TimeEvent, qualifiedName: qualifiedName},
			data:    expr,
		})
		return owner
	}
}

// Else marks the transition as the fallback branch of its junction.
func Else() RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			panic(structuralf("", "Else must be called within a Transition"))
		}
		transition := owner.(*transition)
		if transition.guard != "" {
			panic(structuralf(transition.QualifiedName(), "else branch cannot have a guard"))
		}
		transition.fallback = true
		return owner
	}
}

// Guard attaches a predicate to the transition. A guard that panics is
// treated as false and reported through the machine's logger.
func Guard[T context.Context](fn func(ctx Context[T], event Event) bool, maybeName ...string) RedefinableElement {
	name := ".guard"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			panic(structuralf("", "Guard must be called within a Transition"))
		}
		transition := owner.(*transition)
		if transition.fallback {
			panic(structuralf(transition.QualifiedName(), "else branch cannot have a guard"))
		}
		constraint := &constraint[T]{
			element:    element{kind: kind.Constraint, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()},
			expression: fn,
		}
		register(model, constraint)
		transition.guard = constraint.QualifiedName()
		return owner
	}
}

// Effect attaches an action to the transition, run after the exit set and
// before the entry set.
func Effect[T context.Context](fn func(ctx Context[T], event Event), maybeName ...string) RedefinableElement {
	name := ".effect"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	return func(model *Model, stack []Element) Element {
		owner := find(stack, kind.Transition)
		if owner == nil {
			slog.Error("effect must be called within a Transition")
			panic(structuralf("", "Effect must be called within a Transition"))
		}
		behavior := &behavior[T]{
			element: element{kind: kind.Behavior, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()},
			action:  fn,
		}
		register(model, behavior)
		owner.(*transition).effect = behavior.QualifiedName()
		return owner
	}
}

// Entry attaches an entry behavior to the enclosing state.
func Entry[T context.Context](fn func(ctx Context[T], event Event), maybeName ...string) RedefinableElement {
	return stateBehavior(kind.Behavior, "Entry", ".entry", fn, maybeName, func(state *state, name string) {
		state.entry = name
	})
}

// Exit attaches an exit behavior to the enclosing state.
func Exit[T context.Context](fn func(ctx Context[T], event Event), maybeName ...string) RedefinableElement {
	return stateBehavior(kind.Behavior, "Exit", ".exit", fn, maybeName, func(state *state, name string) {
		state.exit = name
	})
}

// Activity attaches the "do" behavior: a goroutine started after entry and
// cancelled through its context when the state exits. The machine waits for
// it to return, so the activity must honor cancellation.
func Activity[T context.Context](fn func(ctx Context[T], event Event), maybeName ...string) RedefinableElement {
	return stateBehavior(kind.Concurrent, "Activity", ".activity", fn, maybeName, func(state *state, name string) {
		state.activity = name
	})
}

func stateBehavior[T context.Context](behaviorKind uint64, builder, defaultName string, fn func(ctx Context[T], event Event), maybeName []string, assign func(*state, string)) RedefinableElement {
	name := defaultName
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, builder)
		element := &behavior[T]{
			element: element{kind: behaviorKind, qualifiedName: path.Join(owner.QualifiedName(), name), id: uuid.NewString()},
			action:  fn,
		}
		register(model, element)
		assign(owner, element.QualifiedName())
		return element
	}
}

// Extend reopens an already declared composite state and applies further
// build steps inside it. Used to mask or augment a composed submachine.
func Extend(name string, partialElements ...RedefinableElement) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		qualifiedName := name
		if !path.IsAbs(qualifiedName) {
			if ancestor := find(stack, kind.State); ancestor != nil {
				qualifiedName = path.Join(ancestor.QualifiedName(), qualifiedName)
			}
		}
		element, ok := model.namespace[qualifiedName]
		if !ok || !kind.IsKind(element.Kind(), kind.State) {
			panic(structuralf(qualifiedName, "Extend requires an existing state"))
		}
		apply(model, append(stack, element), partialElements...)
		return element
	}
}

// Ref resolves an already declared vertex by name, relative to the enclosing
// state unless absolute. Used to link existing vertices inside a Chain.
func Ref(name string) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		qualifiedName := name
		if !path.IsAbs(qualifiedName) {
			if ancestor := find(stack, kind.State); ancestor != nil {
				qualifiedName = path.Join(ancestor.QualifiedName(), qualifiedName)
			}
		}
		element, ok := model.namespace[qualifiedName]
		if !ok {
			panic(structuralf(qualifiedName, "unknown element"))
		}
		return element
	}
}

// edge carries customization for the next link of a Chain.
type edge struct {
	parts []RedefinableElement
}

// Edge customizes the next transition of a Chain with Trigger, Guard, and
// Effect builders: Chain(a, Edge(Trigger("x"), Guard(g)), b).
func Edge(parts ...RedefinableElement) edge {
	return edge{parts: parts}
}

// Chain associates a sequence of vertices with the transitions between them
// and returns the leftmost vertex, so Initial(Chain(...)) marks the head of
// the sequence initial. String literals between two vertices are lifted to
// equality triggers; two adjacent vertices are linked by a completion
// transition; an Edge between vertices customizes the link.
func Chain(parts ...any) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		var head, previous Element
		var triggers []string
		var pending []RedefinableElement
		for _, part := range parts {
			switch value := part.(type) {
			case string:
				triggers = append(triggers, value)
			case edge:
				pending = append(pending, value.parts...)
			case RedefinableElement:
				element := value(model, stack)
				if element == nil || !kind.IsKind(element.Kind(), kind.Vertex) {
					panic(structuralf("", "chain parts must be vertices, triggers, or edges"))
				}
				if previous != nil {
					link := []RedefinableElement{Target(element.QualifiedName())}
					if len(triggers) > 0 {
						link = append(link, Trigger(triggers...))
					}
					link = append(link, pending...)
					Transition(Source(previous.QualifiedName()), link...)(model, stack)
				}
				triggers = nil
				pending = nil
				if head == nil {
					head = element
				}
				previous = element
			default:
				panic(structuralf("", "cannot lift %T into a transition", part))
			}
		}
		if len(triggers) > 0 || len(pending) > 0 {
			panic(structuralf("", "chain cannot end with a trigger"))
		}
		if head == nil {
			panic(structuralf("", "chain requires at least one vertex"))
		}
		return head
	}
}
