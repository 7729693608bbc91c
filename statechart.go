// Package statechart implements a UML2-style hierarchical state machine:
// composite and parallel states, pseudostates (initial, junction, history,
// terminate), guarded transitions with effects, run-to-completion event
// processing, and timeout events.
//
// A graph is assembled declaratively with Define and the element builders,
// then executed by a Machine that owns a single consumer goroutine.
package statechart

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/statecraft/statechart/embedded"
	"github.com/statecraft/statechart/kind"
)

/******* Element *******/

type element struct {
	kind          uint64
	qualifiedName string
	id            string
}

func (element *element) Kind() uint64 {
	if element == nil {
		return 0
	}
	return element.kind
}

func (element *element) Owner() string {
	if element == nil {
		return ""
	}
	return path.Dir(element.qualifiedName)
}

func (element *element) Id() string {
	if element == nil {
		return ""
	}
	return element.id
}

func (element *element) Name() string {
	if element == nil {
		return ""
	}
	return path.Base(element.qualifiedName)
}

func (element *element) QualifiedName() string {
	if element == nil {
		return ""
	}
	return element.qualifiedName
}

/******* Vertex *******/

type vertex struct {
	element
	transitions []string
}

func (vertex *vertex) Transitions() []string {
	return vertex.transitions
}

/******* State *******/

type state struct {
	vertex
	entry    string
	exit     string
	activity string
	children []string
}

func (state *state) Entry() string {
	return state.entry
}

func (state *state) Activity() string {
	return state.activity
}

func (state *state) Exit() string {
	return state.exit
}

func (state *state) Children() []string {
	return state.children
}

/******* Transition *******/

type transition struct {
	element
	source   string
	target   string
	guard    string
	effect   string
	events   []embedded.Event
	fallback bool
}

func (transition *transition) Guard() string {
	return transition.guard
}

func (transition *transition) Effect() string {
	return transition.effect
}

func (transition *transition) Events() []embedded.Event {
	return transition.events
}

func (transition *transition) Source() string {
	return transition.source
}

func (transition *transition) Target() string {
	return transition.target
}

func (transition *transition) Else() bool {
	return transition.fallback
}

// completion reports whether the transition fires on the completion event of
// its source. Untriggered transitions out of pseudostates are chain links,
// not completion transitions.
func (transition *transition) completion(model *Model) bool {
	if len(transition.events) > 0 {
		return false
	}
	source, ok := model.namespace[transition.source]
	if !ok {
		return false
	}
	return !kind.IsKind(source.Kind(), kind.Pseudostate)
}

/******* Behavior *******/

type behavior[T context.Context] struct {
	element
	action func(ctx Context[T], event Event)
}

/******* Constraint *******/

type constraint[T context.Context] struct {
	element
	expression func(ctx Context[T], event Event) bool
}

/******* Events *******/

type Event = embedded.Event

type event struct {
	element
	data any
}

func (event *event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": event.kind,
		"name": event.qualifiedName,
		"id":   event.id,
		"data": event.data,
	})
}

func (event *event) Name() string {
	if event == nil {
		return ""
	}
	return event.qualifiedName
}

func (event *event) Data() any {
	if event == nil {
		return nil
	}
	return event.data
}

// NewEvent creates an external event with an optional payload.
func NewEvent(name string, maybeData ...any) *event {
	var data any
	if len(maybeData) > 0 {
		data = maybeData[0]
	}
	return &event{
		element: element{kind: kind.Event, qualifiedName: name, id: uuid.NewString()},
		data:    data,
	}
}

func newTimeEvent(name string, token string) Event {
	return &event{
		element: element{kind: kind.TimeEvent, qualifiedName: name, id: token},
	}
}

/******* Model *******/

type Element = embedded.NamedElement

// RedefinableElement is a deferred build step. Applying one against a model
// creates or amends an element within the context described by the stack of
// enclosing elements.
type RedefinableElement = func(model *Model, stack []Element) Element

type Model struct {
	state
	namespace map[string]Element
	elements  []RedefinableElement
	frozen    bool
}

func (model *Model) Namespace() map[string]Element {
	return model.namespace
}

// Push defers a build step until the current batch of elements has been
// applied. Used for validation that needs the whole graph.
func (model *Model) Push(partial RedefinableElement) {
	model.elements = append(model.elements, partial)
}

// Apply runs additional build steps against the model, converting builder
// panics into errors. It fails with a StructuralError once a machine has
// started on this model.
func (model *Model) Apply(partials ...RedefinableElement) (err error) {
	if model.frozen {
		return structuralf(model.qualifiedName, "graph is frozen: builder call after start")
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = structuralf(model.qualifiedName, "%v", r)
		}
	}()
	// Models move by value between Define and the caller; keep the root's
	// namespace entry pointing at this copy.
	model.namespace[model.qualifiedName] = &model.state
	stack := []Element{model}
	model.elements = append(model.elements, partials...)
	for len(model.elements) > 0 {
		elements := model.elements
		model.elements = nil
		apply(model, stack, elements...)
	}
	return nil
}

func apply(model *Model, stack []Element, partials ...RedefinableElement) {
	for _, partial := range partials {
		partial(model, stack)
	}
}

// Define assembles a model from element builders. The model's root is an
// anonymous composite state; a machine enters its initial vertex on start.
func Define[T interface{ RedefinableElement | string }](nameOrRedefinableElement T, redefinableElements ...RedefinableElement) Model {
	name := "/"
	switch any(nameOrRedefinableElement).(type) {
	case string:
		name = path.Join(name, any(nameOrRedefinableElement).(string))
	case RedefinableElement:
		redefinableElements = append([]RedefinableElement{any(nameOrRedefinableElement).(RedefinableElement)}, redefinableElements...)
	}
	model := Model{
		state: state{
			vertex: vertex{element: element{kind: kind.State, qualifiedName: "/", id: name}},
		},
		namespace: map[string]Element{},
	}
	model.namespace["/"] = &model.state
	stack := []Element{&model}
	model.elements = redefinableElements
	for len(model.elements) > 0 {
		elements := model.elements
		model.elements = nil
		apply(&model, stack, elements...)
	}
	return model
}

func find(stack []Element, maybeKinds ...uint64) Element {
	for i := len(stack) - 1; i >= 0; i-- {
		if kind.IsKind(stack[i].Kind(), maybeKinds...) {
			return stack[i]
		}
	}
	return nil
}

func get[T Element](model *Model, name string) T {
	var zero T
	if name == "" {
		return zero
	}
	if element, ok := model.namespace[name]; ok {
		typed, ok := element.(T)
		if ok {
			return typed
		}
	}
	return zero
}

/******* Ancestry *******/

// LCA returns the least common ancestor of two qualified names: the deepest
// vertex that contains both, the parent when the names are equal.
//
// For example:
//   - LCA("/s/s1", "/s/s2") returns "/s"
//   - LCA("/s/s1", "/s/s1/s11") returns "/s/s1"
//   - LCA("/s/s1", "/s/s1") returns "/s"
func LCA(a, b string) string {
	if a == b {
		return path.Dir(a)
	}
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if path.Dir(a) == path.Dir(b) {
		return path.Dir(a)
	}
	if IsAncestor(a, b) {
		return a
	}
	if IsAncestor(b, a) {
		return b
	}
	return LCA(path.Dir(a), path.Dir(b))
}

// IsAncestor reports whether current is a proper ancestor of target.
func IsAncestor(current, target string) bool {
	current = path.Clean(current)
	target = path.Clean(target)
	if current == target || current == "." || target == "." {
		return false
	}
	if current == "/" {
		return true
	}
	parent := path.Dir(target)
	for parent != "/" {
		if parent == current {
			return true
		}
		parent = path.Dir(parent)
	}
	return false
}

// depth is the number of path segments below the root; the root itself has
// depth zero.
func depth(qualifiedName string) int {
	if qualifiedName == "/" || qualifiedName == "" {
		return 0
	}
	return strings.Count(qualifiedName, "/")
}

// childOnPath returns the direct child of ancestor on the path down to
// descendant, or "" when descendant is not below ancestor.
func childOnPath(ancestor, descendant string) string {
	if !IsAncestor(ancestor, descendant) {
		return ""
	}
	current := descendant
	for path.Dir(current) != ancestor {
		current = path.Dir(current)
	}
	return current
}

/******* Validation *******/

// Validate checks the well-formedness rules that cannot be enforced during
// construction: they can be broken by composition and masking, and are
// re-checked when a machine starts.
func (model *Model) Validate() error {
	names := make([]string, 0, len(model.namespace))
	for name := range model.namespace {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		el := model.namespace[name]
		switch {
		case kind.IsKind(el.Kind(), kind.Parallel):
			st := el.(*state)
			if len(st.children) < 2 {
				return structuralf(name, "parallel state requires at least two regions")
			}
			for _, child := range st.children {
				region, ok := model.namespace[child]
				if !ok {
					return structuralf(name, "missing region %s", child)
				}
				if !kind.IsKind(region.Kind(), kind.State) || kind.IsKind(region.Kind(), kind.Parallel) {
					return structuralf(child, "regions of a parallel state must be composite states")
				}
			}
		case kind.IsKind(el.Kind(), kind.State):
			st, ok := el.(*state)
			if !ok {
				continue
			}
			if err := model.validateComposite(name, st); err != nil {
				return err
			}
		case kind.IsKind(el.Kind(), kind.Junction):
			v := el.(*vertex)
			if len(v.transitions) == 0 {
				return structuralf(name, "junction has no outgoing transitions")
			}
			fallbacks := 0
			for _, tq := range v.transitions {
				t := get[*transition](model, tq)
				if t == nil {
					return structuralf(name, "missing transition %s", tq)
				}
				if t.fallback {
					fallbacks++
					if t.guard != "" {
						return structuralf(tq, "else branch cannot have a guard")
					}
				}
			}
			if fallbacks > 1 {
				return structuralf(name, "junction has multiple else branches")
			}
		case kind.IsKind(el.Kind(), kind.Initial):
			v := el.(*vertex)
			if len(v.transitions) != 1 {
				return structuralf(name, "initial requires exactly one outgoing transition")
			}
			t := get[*transition](model, v.transitions[0])
			if t == nil {
				return structuralf(name, "missing transition %s", v.transitions[0])
			}
			if t.guard != "" {
				return structuralf(name, "initial cannot have a guard")
			}
			if len(t.events) > 0 {
				return structuralf(name, "initial cannot have triggers")
			}
		case kind.IsKind(el.Kind(), kind.History):
			owner := get[*state](model, el.Owner())
			if owner == nil {
				return structuralf(name, "history requires an enclosing composite state")
			}
			if kind.IsKind(owner.Kind(), kind.Parallel) {
				return structuralf(name, "history cannot be a region of a parallel state")
			}
		case kind.IsKind(el.Kind(), kind.Transition):
			t := el.(*transition)
			if _, ok := model.namespace[t.source]; !ok {
				return structuralf(name, "missing source %s", t.source)
			}
			if t.target != "" {
				if _, ok := model.namespace[t.target]; !ok {
					return structuralf(name, "missing target %s", t.target)
				}
			}
		}
	}
	return nil
}

func (model *Model) validateComposite(name string, st *state) error {
	if len(st.children) == 0 {
		return nil
	}
	initials := 0
	histories := 0
	enterable := 0
	var final string
	for _, child := range st.children {
		el, ok := model.namespace[child]
		if !ok {
			return structuralf(name, "missing child %s", child)
		}
		switch {
		case kind.IsKind(el.Kind(), kind.Initial):
			initials++
		case kind.IsKind(el.Kind(), kind.History):
			histories++
		case kind.IsKind(el.Kind(), kind.Final):
			final = child
			enterable++
		case kind.IsKind(el.Kind(), kind.State):
			enterable++
		}
	}
	if initials == 0 && enterable > 0 {
		return structuralf(name, "composite state has no initial vertex")
	}
	if initials > 1 {
		return structuralf(name, "composite state has multiple initial vertices")
	}
	if histories > 1 {
		return structuralf(name, "composite state has multiple history vertices")
	}
	if histories > 0 && final != "" && !model.targeted(final) {
		return structuralf(name, "final state %s is unreachable", final)
	}
	return nil
}

// targeted reports whether any transition in the model targets the vertex.
func (model *Model) targeted(name string) bool {
	for _, el := range model.namespace {
		if t, ok := el.(*transition); ok && t.target == name {
			return true
		}
	}
	return false
}
