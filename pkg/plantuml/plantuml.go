// Package plantuml renders a statechart model as a PlantUML state diagram.
// It consumes only the embedded interfaces and performs no layout of its
// own; the output is meant to be piped into plantuml.
package plantuml

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/statecraft/statechart/embedded"
	"github.com/statecraft/statechart/kind"
)

func idFromQualifiedName(qualifiedName string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.TrimPrefix(strings.TrimPrefix(qualifiedName, "/"), "."), "-", "_"), "/", ".")
}

func endpoint(model embedded.Model, qualifiedName string) string {
	el, ok := model.Namespace()[qualifiedName]
	if !ok {
		return idFromQualifiedName(qualifiedName)
	}
	switch {
	case kind.IsKind(el.Kind(), kind.Final):
		return "[*]"
	case kind.IsKind(el.Kind(), kind.Initial):
		return "[*]"
	case kind.IsKind(el.Kind(), kind.History):
		return idFromQualifiedName(path.Dir(qualifiedName)) + "[H]"
	default:
		return idFromQualifiedName(qualifiedName)
	}
}

func generateVertex(builder *strings.Builder, depth int, el embedded.NamedElement, model embedded.Model) {
	indent := strings.Repeat(" ", depth*2)
	id := idFromQualifiedName(el.QualifiedName())
	switch {
	case kind.IsKind(el.Kind(), kind.Junction):
		fmt.Fprintf(builder, "%sstate %s <<choice>>\n", indent, id)
	case kind.IsKind(el.Kind(), kind.Initial), kind.IsKind(el.Kind(), kind.Final), kind.IsKind(el.Kind(), kind.History), kind.IsKind(el.Kind(), kind.Terminate):
		// rendered through transition endpoints
	case kind.IsKind(el.Kind(), kind.State):
		generateState(builder, depth, el.(embedded.State), model)
	}
}

func generateState(builder *strings.Builder, depth int, state embedded.State, model embedded.Model) {
	indent := strings.Repeat(" ", depth*2)
	id := idFromQualifiedName(state.QualifiedName())
	children := state.Children()
	if len(children) == 0 {
		fmt.Fprintf(builder, "%sstate %s\n", indent, id)
	} else {
		fmt.Fprintf(builder, "%sstate %s {\n", indent, id)
		for _, child := range children {
			if el, ok := model.Namespace()[child]; ok {
				generateVertex(builder, depth+1, el, model)
			}
		}
		fmt.Fprintf(builder, "%s}\n", indent)
	}
	if entry := state.Entry(); entry != "" {
		fmt.Fprintf(builder, "%sstate %s: entry / %s\n", indent, id, idFromQualifiedName(path.Base(entry)))
	}
	if activity := state.Activity(); activity != "" {
		fmt.Fprintf(builder, "%sstate %s: do / %s\n", indent, id, idFromQualifiedName(path.Base(activity)))
	}
	if exit := state.Exit(); exit != "" {
		fmt.Fprintf(builder, "%sstate %s: exit / %s\n", indent, id, idFromQualifiedName(path.Base(exit)))
	}
}

func generateTransition(builder *strings.Builder, transition embedded.Transition, model embedded.Model) {
	label := ""
	if events := transition.Events(); len(events) > 0 {
		names := make([]string, 0, len(events))
		for _, event := range events {
			names = append(names, path.Base(event.Name()))
		}
		label = strings.Join(names, "|")
	}
	if transition.Else() {
		label = "[else]"
	} else if guard := transition.Guard(); guard != "" {
		label = fmt.Sprintf("%s [%s]", label, idFromQualifiedName(path.Base(guard)))
	}
	if effect := transition.Effect(); effect != "" {
		label = fmt.Sprintf("%s / %s", label, idFromQualifiedName(path.Base(effect)))
	}
	if label != "" {
		label = fmt.Sprintf(" : %s", strings.TrimSpace(label))
	}
	source := endpoint(model, transition.Source())
	if transition.Target() == "" {
		fmt.Fprintf(builder, "%s : %s (internal)\n", source, strings.TrimPrefix(label, " : "))
		return
	}
	fmt.Fprintf(builder, "%s --> %s%s\n", source, endpoint(model, transition.Target()), label)
}

// Generate writes the PlantUML diagram of the model to the writer.
func Generate(writer io.Writer, model embedded.Model) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "@startuml %s\n", strings.TrimPrefix(model.Id(), "/"))
	names := make([]string, 0, len(model.Namespace()))
	for name := range model.Namespace() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		el := model.Namespace()[name]
		if el.Owner() != model.QualifiedName() || name == model.QualifiedName() {
			continue
		}
		if kind.IsKind(el.Kind(), kind.Vertex) {
			generateVertex(&builder, 0, el, model)
		}
	}
	for _, name := range names {
		if transition, ok := model.Namespace()[name].(embedded.Transition); ok {
			generateTransition(&builder, transition, model)
		}
	}
	fmt.Fprintln(&builder, "@enduml")
	_, err := io.WriteString(writer, builder.String())
	return err
}
