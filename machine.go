package statechart

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/statecraft/statechart/clock"
	"github.com/statecraft/statechart/embedded"
	"github.com/statecraft/statechart/kind"
	"github.com/statecraft/statechart/pkg/set"
	"github.com/statecraft/statechart/queue"
	"github.com/statecraft/statechart/sched"
)

type subcontext = context.Context

// Trace observes engine steps. It is called at the start of a step with a
// label and details and returns a function. For "dispatch" that function is
// invoked when the step ends; for "transition", "enter", and "exit" it is
// invoked immediately, so those steps are recorded as points in time.
type Trace func(ctx context.Context, step string, details ...any) func(...any)

// Machine executes a Model. A single consumer goroutine owns the
// configuration; producers interact with it only through Post, Stop, and
// the queue underneath them.
type Machine[T context.Context] struct {
	subcontext
	element
	model   *Model
	Storage T

	logger *slog.Logger
	clk    clock.Clock
	trace  Trace
	queue  *queue.Queue
	timers *sched.Scheduler

	mu            sync.Mutex
	configuration set.Set[string]
	history       map[string]*snapshot
	regions       map[string]set.Set[string]
	armed         map[string]armedTimer
	activities    map[string]*activity
	completions   []string
	vars          map[string]any
	err           error

	started  atomic.Bool
	stopping atomic.Bool
	halted   bool
	done     chan struct{}
}

// snapshot records the active descendants of a composite at the moment it
// exited, each parent before its children, siblings in document order.
type snapshot struct {
	child    string
	vertices []string
}

type armedTimer struct {
	token string
	id    uint64
}

type activity struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Context is handed to guards, effects, and behaviors. Guards, effects, and
// entry/exit behaviors run on the consumer goroutine; Assign and Lookup are
// safe there, as is Post. An Activity runs on a goroutine of its own.
type Context[T context.Context] struct {
	subcontext
	*Machine[T]
}

// Err resolves to the context's error, not the machine's fatal condition;
// use Machine.Err for the latter.
func (ctx Context[T]) Err() error {
	return ctx.subcontext.Err()
}

type Option[T context.Context] func(*Machine[T])

func WithLogger[T context.Context](logger *slog.Logger) Option[T] {
	return func(m *Machine[T]) {
		m.logger = logger
	}
}

func WithClock[T context.Context](c clock.Clock) Option[T] {
	return func(m *Machine[T]) {
		m.clk = c
	}
}

func WithTrace[T context.Context](trace Trace) Option[T] {
	return func(m *Machine[T]) {
		m.trace = trace
	}
}

// New binds a model to a machine. The model stays mutable until Start.
func New[T context.Context](ctx T, model *Model, options ...Option[T]) *Machine[T] {
	// Models move by value between Define and the caller; re-anchor the
	// root's namespace entry on this copy.
	model.namespace[model.QualifiedName()] = &model.state
	m := &Machine[T]{
		element: element{
			kind:          kind.StateMachine,
			qualifiedName: model.QualifiedName(),
			id:            uuid.NewString(),
		},
		subcontext:    ctx,
		model:         model,
		Storage:       ctx,
		logger:        slog.Default(),
		clk:           clock.System(),
		queue:         queue.New(),
		configuration: set.New[string](),
		history:       map[string]*snapshot{},
		regions:       map[string]set.Set[string]{},
		armed:         map[string]armedTimer{},
		activities:    map[string]*activity{},
		vars:          map[string]any{},
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Start validates the graph, freezes it, and spins up the consumer
// goroutine, which enters the initial configuration.
func (m *Machine[T]) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	if err := m.model.Validate(); err != nil {
		m.started.Store(false)
		return err
	}
	m.model.frozen = true
	m.timers = sched.New(m.clk, func(event embedded.Event) {
		_ = m.queue.Push(event)
	})
	go m.run()
	return nil
}

// Post enqueues an event for the consumer. It never blocks beyond the queue
// mutex and fails with ErrQueueClosed once the machine is stopping.
func (m *Machine[T]) Post(event Event) error {
	if event == nil {
		return structuralf("", "cannot post a nil event")
	}
	return m.queue.Push(event)
}

// Stop requests shutdown: the current RTC step drains, every active state
// exits deepest first, and the consumer goroutine terminates.
func (m *Machine[T]) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopping.Store(true)
	m.queue.Close()
}

// Join blocks until the consumer goroutine has exited or the timeout
// elapses; a timeout of zero or less waits indefinitely. It reports whether
// shutdown completed.
func (m *Machine[T]) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-m.done
		return true
	}
	select {
	case <-m.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Settle blocks until all posted events have been consumed and the consumer
// is idle, or the timeout elapses.
func (m *Machine[T]) Settle(timeout time.Duration) bool {
	return m.queue.Settle(timeout)
}

// Assign stores a value in the machine's variable map. The map belongs to
// the consumer goroutine: call Assign before Start or from guards and
// behaviors, not concurrently with them.
func (m *Machine[T]) Assign(key string, value any) {
	m.vars[key] = value
}

// Lookup reads a value stored with Assign, under the same threading rules.
func (m *Machine[T]) Lookup(key string) any {
	return m.vars[key]
}

// Configuration returns the sorted qualified names of all active vertices.
func (m *Machine[T]) Configuration() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, m.configuration.Size())
	for name := range m.configuration.Items() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// In reports whether the named vertex is active.
func (m *Machine[T]) In(name string) bool {
	if !path.IsAbs(name) {
		name = path.Join("/", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configuration.Contains(name)
}

// Err returns the fatal condition that stopped the machine, if any.
func (m *Machine[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Machine[T]) run() {
	defer close(m.done)
	root := m.model.QualifiedName()
	m.mu.Lock()
	m.enterInitial()
	m.mu.Unlock()
	for !m.stopping.Load() {
		event, ok := m.queue.Pop()
		if !ok {
			break
		}
		m.mu.Lock()
		m.dispatch(event)
		fatal := m.halted || m.err != nil
		m.mu.Unlock()
		if fatal {
			break
		}
	}
	if m.timers != nil {
		m.timers.Stop()
	}
	m.queue.Close()
	m.mu.Lock()
	if !m.halted && m.configuration.Contains(root) {
		m.exitVertex(root, nil)
	}
	m.mu.Unlock()
}

func (m *Machine[T]) enterInitial() {
	var worklist []*transition
	m.enterVertex(m.model.QualifiedName(), nil, true, "", &worklist, set.New[string]())
	if len(worklist) > 0 {
		m.compound(nil, worklist)
	}
	m.drainCompletions(nil)
}

func (m *Machine[T]) dispatch(event Event) {
	if event == nil {
		return
	}
	if m.trace != nil {
		defer m.trace(m, "dispatch", event.Name())()
	}
	transitions := m.selectEnabled(event)
	for _, t := range transitions {
		if m.halted || m.err != nil {
			return
		}
		// an earlier member of the execution set may have exited this source
		if !m.configuration.Contains(t.source) {
			continue
		}
		m.compound(event, []*transition{t})
	}
	m.drainCompletions(event)
}

func (m *Machine[T]) postCompletion(name string) {
	m.completions = append(m.completions, name)
}

// drainCompletions resolves engine-generated completion events until the
// step is quiescent. Completion of the root shuts the machine down after
// exiting every active state.
func (m *Machine[T]) drainCompletions(event Event) {
	root := m.model.QualifiedName()
	for len(m.completions) > 0 && !m.halted && m.err == nil {
		name := m.completions[0]
		m.completions = m.completions[1:]
		if name == root {
			m.exitVertex(root, event)
			m.shutdown()
			return
		}
		if !m.configuration.Contains(name) {
			continue
		}
		if t := m.completionEnabled(name); t != nil {
			m.compound(nil, []*transition{t})
		}
		if parent := path.Dir(name); parent != name {
			if running, ok := m.regions[parent]; ok {
				running.Remove(name)
				if running.Size() == 0 {
					m.postCompletion(parent)
				}
			}
		}
	}
}

func (m *Machine[T]) shutdown() {
	m.stopping.Store(true)
	m.queue.Close()
}

func (m *Machine[T]) fail(err error) {
	m.err = err
	m.logger.Error("state machine stopped on structural error", "error", err)
	m.shutdown()
}
