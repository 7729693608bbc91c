package plantuml_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/statecraft/statechart"
	"github.com/statecraft/statechart/pkg/plantuml"
)

func TestGenerate(t *testing.T) {
	model := statechart.Define("door",
		statechart.State("closed",
			statechart.State("locked"),
			statechart.State("unlocked"),
			statechart.Initial("locked"),
			statechart.Transition(statechart.Source("locked"), statechart.Target("unlocked"), statechart.Trigger("unlock")),
		),
		statechart.State("open"),
		statechart.Junction("decide",
			statechart.Transition(statechart.Target("/open")),
		),
		statechart.Final("gone"),
		statechart.Initial("closed"),
		statechart.Transition(statechart.Source("closed"), statechart.Target("open"), statechart.Trigger("open")),
		statechart.Transition(statechart.Source("open"), statechart.Target("gone"), statechart.Trigger("remove")),
	)
	var buffer bytes.Buffer
	if err := plantuml.Generate(&buffer, &model); err != nil {
		t.Fatal(err)
	}
	output := buffer.String()
	for _, expected := range []string{
		"@startuml door",
		"@enduml",
		"state closed {",
		"state decide <<choice>>",
		"closed --> open : open",
		"open --> [*] : remove",
		"[*] --> closed",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("output missing %q:\n%s", expected, output)
		}
	}
}
