// Package export emits a YAML description of a statechart graph: every
// vertex with its kind, parent, and behavior presence, and every transition
// with its trigger labels. Renderers and tooling consume this instead of
// walking the model themselves.
package export

import (
	"io"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/statecraft/statechart/embedded"
	"github.com/statecraft/statechart/kind"
)

type Vertex struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Parent   string   `yaml:"parent,omitempty"`
	Entry    bool     `yaml:"entry,omitempty"`
	Exit     bool     `yaml:"exit,omitempty"`
	Activity bool     `yaml:"activity,omitempty"`
	Children []string `yaml:"children,omitempty"`
}

type Transition struct {
	Name     string   `yaml:"name"`
	Source   string   `yaml:"source"`
	Target   string   `yaml:"target,omitempty"`
	Kind     string   `yaml:"kind"`
	Triggers []string `yaml:"triggers,omitempty"`
	Guard    bool     `yaml:"guard,omitempty"`
	Effect   bool     `yaml:"effect,omitempty"`
	Else     bool     `yaml:"else,omitempty"`
}

type Graph struct {
	Name        string       `yaml:"name"`
	Vertices    []Vertex     `yaml:"vertices"`
	Transitions []Transition `yaml:"transitions"`
}

func vertexKind(k uint64) string {
	switch {
	case kind.IsKind(k, kind.DeepHistory):
		return "deep-history"
	case kind.IsKind(k, kind.ShallowHistory):
		return "shallow-history"
	case kind.IsKind(k, kind.Junction):
		return "junction"
	case kind.IsKind(k, kind.Terminate):
		return "terminate"
	case kind.IsKind(k, kind.Initial):
		return "initial"
	case kind.IsKind(k, kind.Final):
		return "final"
	case kind.IsKind(k, kind.Parallel):
		return "parallel"
	case kind.IsKind(k, kind.State):
		return "state"
	default:
		return "vertex"
	}
}

func transitionKind(k uint64) string {
	switch {
	case kind.IsKind(k, kind.Internal):
		return "internal"
	case kind.IsKind(k, kind.Self):
		return "self"
	case kind.IsKind(k, kind.Local):
		return "local"
	case kind.IsKind(k, kind.External):
		return "external"
	default:
		return "transition"
	}
}

// Describe builds the graph description of a model.
func Describe(model embedded.Model) Graph {
	graph := Graph{Name: path.Base(model.Id())}
	names := make([]string, 0, len(model.Namespace()))
	for name := range model.Namespace() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		el := model.Namespace()[name]
		switch typed := el.(type) {
		case embedded.Transition:
			triggers := make([]string, 0, len(typed.Events()))
			for _, event := range typed.Events() {
				triggers = append(triggers, event.Name())
			}
			graph.Transitions = append(graph.Transitions, Transition{
				Name:     typed.QualifiedName(),
				Source:   typed.Source(),
				Target:   typed.Target(),
				Kind:     transitionKind(typed.Kind()),
				Triggers: triggers,
				Guard:    typed.Guard() != "",
				Effect:   typed.Effect() != "",
				Else:     typed.Else(),
			})
		case embedded.State:
			graph.Vertices = append(graph.Vertices, Vertex{
				Name:     typed.QualifiedName(),
				Kind:     vertexKind(typed.Kind()),
				Parent:   parentOf(model, typed),
				Entry:    typed.Entry() != "",
				Exit:     typed.Exit() != "",
				Activity: typed.Activity() != "",
				Children: typed.Children(),
			})
		case embedded.Vertex:
			graph.Vertices = append(graph.Vertices, Vertex{
				Name:   typed.QualifiedName(),
				Kind:   vertexKind(typed.Kind()),
				Parent: parentOf(model, typed),
			})
		}
	}
	return graph
}

func parentOf(model embedded.Model, el embedded.NamedElement) string {
	if el.QualifiedName() == model.QualifiedName() {
		return ""
	}
	return el.Owner()
}

// YAML writes the description of the model to the writer.
func YAML(writer io.Writer, model embedded.Model) error {
	encoder := yaml.NewEncoder(writer)
	defer encoder.Close()
	return encoder.Encode(Describe(model))
}
