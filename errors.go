package statechart

import (
	"errors"
	"fmt"

	"github.com/statecraft/statechart/queue"
)

// ErrQueueClosed is returned by Post once the machine has been stopped.
var ErrQueueClosed = queue.ErrClosed

// ErrStarted is returned by Start when the machine is already running.
var ErrStarted = errors.New("statechart: machine already started")

// StructuralError reports a malformed graph: a builder call after start, a
// missing initial vertex, a junction with no satisfiable branch, a cycle in
// a pseudostate chain, and similar well-formedness violations.
type StructuralError struct {
	Element string
	Reason  string
}

func (e *StructuralError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("statechart: %s", e.Reason)
	}
	return fmt.Sprintf("statechart: %s: %s", e.Element, e.Reason)
}

func structuralf(element string, format string, args ...any) *StructuralError {
	return &StructuralError{Element: element, Reason: fmt.Sprintf(format, args...)}
}
