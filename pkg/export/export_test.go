package export_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/statecraft/statechart"
	"github.com/statecraft/statechart/pkg/export"
)

func model() statechart.Model {
	return statechart.Define("traffic",
		statechart.State("red"),
		statechart.State("green"),
		statechart.Final("off"),
		statechart.Junction("check",
			statechart.Transition(statechart.Target("/red")),
		),
		statechart.Initial("red"),
		statechart.Transition("go", statechart.Source("red"), statechart.Target("green"), statechart.Trigger("go")),
		statechart.Transition("halt", statechart.Source("green"), statechart.Target("off"), statechart.Trigger("halt")),
	)
}

func TestDescribe(t *testing.T) {
	m := model()
	graph := export.Describe(&m)
	kinds := map[string]string{}
	for _, vertex := range graph.Vertices {
		kinds[vertex.Name] = vertex.Kind
	}
	expected := map[string]string{
		"/red":      "state",
		"/green":    "state",
		"/off":      "final",
		"/check":    "junction",
		"/.initial": "initial",
	}
	for name, kind := range expected {
		if kinds[name] != kind {
			t.Errorf("%s: kind = %q, expected %q", name, kinds[name], kind)
		}
	}
	var found bool
	for _, transition := range graph.Transitions {
		if transition.Name == "/go" {
			found = true
			if transition.Source != "/red" || transition.Target != "/green" {
				t.Errorf("unexpected endpoints: %+v", transition)
			}
			if len(transition.Triggers) != 1 || transition.Triggers[0] != "go" {
				t.Errorf("unexpected triggers: %v", transition.Triggers)
			}
			if transition.Kind != "external" {
				t.Errorf("unexpected kind %q", transition.Kind)
			}
		}
	}
	if !found {
		t.Fatal("transition /go missing from the description")
	}
}

func TestYAML(t *testing.T) {
	m := model()
	var buffer bytes.Buffer
	if err := export.YAML(&buffer, &m); err != nil {
		t.Fatal(err)
	}
	output := buffer.String()
	for _, expected := range []string{"name: traffic", "/red", "kind: junction", "triggers:"} {
		if !strings.Contains(output, expected) {
			t.Errorf("output missing %q:\n%s", expected, output)
		}
	}
}
