package statechart

import (
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/statecraft/statechart/kind"
)

// cloner is implemented by every element so a whole namespace can be
// re-rooted under a new prefix. Clones get fresh ids: identity is never
// shared between a template and the machines composed from it.
type cloner interface {
	reindex(old, new string) Element
}

func reindexName(name, old, new string) string {
	if name == "" {
		return ""
	}
	if old == "/" {
		if name == "/" {
			return new
		}
		return new + name
	}
	if name == old {
		return new
	}
	if strings.HasPrefix(name, old+"/") {
		return new + strings.TrimPrefix(name, old)
	}
	return name
}

func (s *state) reindex(old, new string) Element {
	clone := &state{
		vertex: vertex{
			element: element{kind: s.kind, qualifiedName: reindexName(s.qualifiedName, old, new), id: uuid.NewString()},
		},
		entry:    reindexName(s.entry, old, new),
		exit:     reindexName(s.exit, old, new),
		activity: reindexName(s.activity, old, new),
	}
	for _, t := range s.transitions {
		clone.transitions = append(clone.transitions, reindexName(t, old, new))
	}
	for _, c := range s.children {
		clone.children = append(clone.children, reindexName(c, old, new))
	}
	return clone
}

func (v *vertex) reindex(old, new string) Element {
	clone := &vertex{
		element: element{kind: v.kind, qualifiedName: reindexName(v.qualifiedName, old, new), id: uuid.NewString()},
	}
	for _, t := range v.transitions {
		clone.transitions = append(clone.transitions, reindexName(t, old, new))
	}
	return clone
}

func (t *transition) reindex(old, new string) Element {
	clone := &transition{
		element:  element{kind: t.kind, qualifiedName: reindexName(t.qualifiedName, old, new), id: uuid.NewString()},
		source:   reindexName(t.source, old, new),
		target:   reindexName(t.target, old, new),
		guard:    reindexName(t.guard, old, new),
		effect:   reindexName(t.effect, old, new),
		fallback: t.fallback,
	}
	for _, trigger := range t.events {
		if kind.IsKind(trigger.Kind(), kind.TimeEvent) {
			clone.events = append(clone.events, &event{
				element: element{kind: kind.TimeEvent, qualifiedName: reindexName(trigger.Name(), old, new)},
				data:    trigger.Data(),
			})
			continue
		}
		clone.events = append(clone.events, trigger)
	}
	return clone
}

func (b *behavior[T]) reindex(old, new string) Element {
	return &behavior[T]{
		element: element{kind: b.kind, qualifiedName: reindexName(b.qualifiedName, old, new), id: uuid.NewString()},
		action:  b.action,
	}
}

func (c *constraint[T]) reindex(old, new string) Element {
	return &constraint[T]{
		element:    element{kind: c.kind, qualifiedName: reindexName(c.qualifiedName, old, new), id: uuid.NewString()},
		expression: c.expression,
	}
}

// Submachine attaches a deep clone of another model as a composite child of
// the enclosing state. Behaviors and guards in the template must be built
// for the same context type as the machine that will run the composed
// graph.
func Submachine(name string, source *Model) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "Submachine")
		base := path.Join(owner.QualifiedName(), name)
		if _, exists := model.namespace[base]; exists {
			panic(structuralf(base, "element already exists"))
		}
		names := make([]string, 0, len(source.namespace))
		for qualifiedName := range source.namespace {
			names = append(names, qualifiedName)
		}
		sort.Strings(names)
		for _, qualifiedName := range names {
			el, ok := source.namespace[qualifiedName].(cloner)
			if !ok {
				panic(structuralf(qualifiedName, "cannot clone element"))
			}
			clone := el.reindex("/", base)
			model.namespace[clone.QualifiedName()] = clone
		}
		owner.children = append(owner.children, base)
		return model.namespace[base]
	}
}

// Mask removes named child vertices or transitions from the enclosing
// composite, along with everything beneath them and every transition whose
// source or target is removed. After the current batch of build steps the
// composite is re-validated: it must keep an initial vertex, and if its
// subtree contained a final vertex before masking a reachable one must
// remain.
func Mask(names ...string) RedefinableElement {
	return func(model *Model, stack []Element) Element {
		owner := ownerState(stack, "Mask")
		ownerName := owner.QualifiedName()
		hadFinal := model.subtreeHasFinal(ownerName)
		for _, name := range names {
			qualifiedName := path.Join(ownerName, name)
			el, ok := model.namespace[qualifiedName]
			if !ok {
				panic(structuralf(qualifiedName, "mask: unknown element"))
			}
			switch {
			case kind.IsKind(el.Kind(), kind.Transition):
				model.removeTransition(el.(*transition))
			case kind.IsKind(el.Kind(), kind.Vertex):
				model.removeSubtree(qualifiedName)
			default:
				panic(structuralf(qualifiedName, "mask: only vertices and transitions can be masked"))
			}
		}
		model.Push(func(model *Model, stack []Element) Element {
			if err := model.checkMasked(ownerName, hadFinal); err != nil {
				panic(err)
			}
			return model.namespace[ownerName]
		})
		return owner
	}
}

func (model *Model) subtreeHasFinal(root string) bool {
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	for name, el := range model.namespace {
		if strings.HasPrefix(name, prefix) && kind.IsKind(el.Kind(), kind.Final) {
			return true
		}
	}
	return false
}

func (model *Model) removeTransition(t *transition) {
	prefix := t.qualifiedName + "/"
	for name := range model.namespace {
		if name == t.qualifiedName || strings.HasPrefix(name, prefix) {
			delete(model.namespace, name)
		}
	}
	if source, ok := model.namespace[t.source]; ok {
		switch v := source.(type) {
		case *state:
			v.transitions = removeString(v.transitions, t.qualifiedName)
		case *vertex:
			v.transitions = removeString(v.transitions, t.qualifiedName)
		}
	}
}

func (model *Model) removeSubtree(root string) {
	inSubtree := func(name string) bool {
		return name == root || strings.HasPrefix(name, root+"/")
	}
	var doomed []*transition
	for name, el := range model.namespace {
		if t, ok := el.(*transition); ok {
			if inSubtree(name) || inSubtree(t.source) || (t.target != "" && inSubtree(t.target)) {
				doomed = append(doomed, t)
			}
		}
	}
	for _, t := range doomed {
		model.removeTransition(t)
	}
	for name := range model.namespace {
		if inSubtree(name) {
			delete(model.namespace, name)
		}
	}
	ownerName := path.Dir(root)
	if owner, ok := model.namespace[ownerName]; ok {
		if st, ok := owner.(*state); ok {
			st.children = removeString(st.children, root)
		}
	}
	// A masked initial child leaves a dangling initial vertex behind; drop
	// it so a replacement Initial can be declared in the same batch.
	if initial := get[*vertex](model, path.Join(ownerName, ".initial")); initial != nil && len(initial.transitions) == 0 {
		delete(model.namespace, initial.qualifiedName)
		if st, ok := model.namespace[ownerName].(*state); ok {
			st.children = removeString(st.children, initial.qualifiedName)
		}
	}
}

func (model *Model) checkMasked(name string, hadFinal bool) error {
	st := get[*state](model, name)
	if st == nil {
		return structuralf(name, "masked composite no longer exists")
	}
	if err := model.validateComposite(name, st); err != nil {
		return err
	}
	if hadFinal && !model.subtreeHasReachableFinal(name) {
		return structuralf(name, "no reachable final vertex remains after masking")
	}
	return nil
}

func (model *Model) subtreeHasReachableFinal(root string) bool {
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	for name, el := range model.namespace {
		if strings.HasPrefix(name, prefix) && kind.IsKind(el.Kind(), kind.Final) && model.targeted(name) {
			return true
		}
	}
	return false
}

func removeString(items []string, item string) []string {
	kept := items[:0]
	for _, existing := range items {
		if existing != item {
			kept = append(kept, existing)
		}
	}
	return kept
}
