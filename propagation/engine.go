// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package propagation implements the fixed-point propagation engine
// (spec.md §4.6): the gather/step loop that turns queued call/emit/signal/
// forward records into command invocations and emissions, cascading
// through a Plan's Signal and Forwarding relations. Engine is the
// production implementation of event.Host.
package propagation

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/plan"
	"github.com/rock-core/roby-go/robyclock"
	"github.com/rock-core/roby-go/task"
)

// Engine drives propagation for a single Plan and implements event.Host,
// so every Generator registered through it can Call/Emit without
// importing this package (spec.md §9, design note on the Host interface).
// The zero value is not usable; use [New].
type Engine struct {
	p     *plan.Plan
	clock robyclock.Clock

	mu          sync.Mutex
	onceQueue   []func()
	workerQueue []func()

	onEngineThread bool

	inPropagation bool
	propagationID int
	extSeq        uint64

	pending map[event.ID]*pendingEntry
	order   []event.ID

	delayed delayedHeap

	generators    map[event.ID]*event.Generator
	terminalProbe map[event.ID]func() bool
	firedThisCycle map[event.ID]bool

	fatalBuffer []error
}

// New returns an Engine driving propagation for p. The calling goroutine
// is treated as the engine thread until told otherwise (spec.md §5's
// single-designated-thread model; see [Engine.SetOnEngineThread]).
func New(p *plan.Plan, clock robyclock.Clock) *Engine {
	return &Engine{
		p:              p,
		clock:          clock,
		onEngineThread: true,
		pending:        make(map[event.ID]*pendingEntry),
		generators:     make(map[event.ID]*event.Generator),
		terminalProbe:  make(map[event.ID]func() bool),
	}
}

// Plan returns the Plan this Engine drives.
func (e *Engine) Plan() *plan.Plan { return e.p }

// SetOnEngineThread marks whether the calling code currently runs on the
// designated engine thread, per spec.md §4.3/§5's ThreadMismatch check.
// Production callers flip this around the cycle loop body and around
// Execute's synchronous trampoline; tests may set it directly to exercise
// the rejection path.
func (e *Engine) SetOnEngineThread(v bool) { e.onEngineThread = v }

// Now implements event.Host.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// OnEngineThread implements event.Host.
func (e *Engine) OnEngineThread() bool { return e.onEngineThread }

// InPropagation implements event.Host.
func (e *Engine) InPropagation() bool { return e.inPropagation }

// Executable implements event.Host: the plan must be executable and the
// owning task (if any) must not be finalized (spec.md §4.3).
func (e *Engine) Executable(id event.ID) bool {
	if !e.p.Executable() {
		return false
	}
	if t, ok := e.taskOwning(id); ok {
		return t.Executable()
	}
	if _, ok := e.p.Event(id); ok {
		return true
	}
	return false
}

func (e *Engine) taskOwning(id event.ID) (*task.Task, bool) {
	for _, t := range e.p.Tasks() {
		for _, teg := range t.Events() {
			if teg.ID() == id {
				return t, true
			}
		}
	}
	return nil, false
}

// Enqueue implements event.Host: merges rec into the current gather set
// (spec.md §4.6 "gathering phase" / step 3).
func (e *Engine) Enqueue(rec event.Record) {
	entry, ok := e.pending[rec.To]
	if !ok {
		entry = newPendingEntry(rec)
		e.pending[rec.To] = entry
		e.order = append(e.order, rec.To)
	}
	entry.add(e.sourceKey(rec), rec)
}

func (e *Engine) sourceKey(rec event.Record) string {
	if rec.From == nil {
		e.extSeq++
		return fmt.Sprintf("ext:%d", e.extSeq)
	}
	return string(rec.From.Generator)
}

// RegisterTask registers t with the underlying Plan and tracks every one
// of its bound events so they can be targeted by Step and cascaded on
// emission.
func (e *Engine) RegisterTask(t *task.Task) error {
	if err := e.p.RegisterTask(t); err != nil {
		return err
	}
	for _, teg := range t.Events() {
		e.TrackGenerator(teg.Generator)
		teg := teg
		e.terminalProbe[teg.ID()] = func() bool { return teg.TerminalFlagValue() != task.TerminalNo }
	}
	return nil
}

// RegisterEvent registers a free event generator with the Plan and
// tracks it for targeting/cascading. Free events are never terminal.
func (e *Engine) RegisterEvent(g *event.Generator) error {
	if err := e.p.RegisterEvent(g); err != nil {
		return err
	}
	e.TrackGenerator(g)
	return nil
}

// TrackGenerator makes g targetable by Step and wires its emissions to
// cascade through the Plan's Signal/Forwarding relations. Exported so
// model-defined bound events added after task registration
// (task.Task.AddBoundEvent) can be tracked too.
func (e *Engine) TrackGenerator(g *event.Generator) {
	e.generators[g.ID()] = g
	g.AddFiredHook(e.cascade)
}

// cascade enqueues a propagation record to every Signal and Forwarding
// child of ev's generator, with ev as the source (spec.md §4.3 "signals"/
// "forward_to", §4.6 step 6).
func (e *Engine) cascade(ev *event.Event) {
	for _, child := range e.p.Signal.ChildrenOf(ev.Generator) {
		e.Enqueue(event.Record{Kind: event.KindSignal, From: ev, To: child, Context: ev.Context, When: edgeTimeSpec(e.p.Signal, ev.Generator, child)})
	}
	for _, child := range e.p.Forwarding.ChildrenOf(ev.Generator) {
		e.Enqueue(event.Record{Kind: event.KindForward, From: ev, To: child, Context: ev.Context, When: edgeTimeSpec(e.p.Forwarding, ev.Generator, child)})
	}
}

func edgeTimeSpec(g interface {
	EdgeInfoOf(from, to event.ID) (any, bool)
}, from, to event.ID) event.TimeSpec {
	info, ok := g.EdgeInfoOf(from, to)
	if !ok {
		return event.TimeSpec{}
	}
	when, _ := info.(event.TimeSpec)
	return when
}

// Once enqueues f to be run on the engine thread at the start of the next
// cycle (spec.md §6 "once"). Safe to call from any goroutine.
func (e *Engine) Once(f func()) {
	e.mu.Lock()
	e.onceQueue = append(e.onceQueue, f)
	e.mu.Unlock()
}

// QueueWorkerCompletion enqueues f the same way Once does, for the
// dedicated worker-completion-block queue spec.md §5 describes as a
// distinct submission channel from the once-queue.
func (e *Engine) QueueWorkerCompletion(f func()) {
	e.mu.Lock()
	e.workerQueue = append(e.workerQueue, f)
	e.mu.Unlock()
}

// DrainSubmissions runs every thunk queued via Once/QueueWorkerCompletion
// since the last drain, in FIFO order per queue (spec.md §4.7 "drain
// external-submitted thunks").
func (e *Engine) DrainSubmissions() {
	e.mu.Lock()
	once := e.onceQueue
	e.onceQueue = nil
	worker := e.workerQueue
	e.workerQueue = nil
	e.mu.Unlock()

	for _, f := range once {
		f()
	}
	for _, f := range worker {
		f()
	}
}

// Execute runs f synchronously if already on the engine thread;
// otherwise it enqueues f and blocks until the engine thread runs it,
// implementing spec.md §6's "execute { … } blocking trampoline".
func (e *Engine) Execute(f func()) {
	if e.onEngineThread {
		f()
		return
	}
	done := make(chan struct{})
	e.Once(func() {
		f()
		close(done)
	})
	<-done
}

// drainDueDelayed re-enqueues past-due delayed records into the gather
// set and should be called once at the start of every propagation run
// (spec.md §4.6 "at cycle start, all past-due entries are re-enqueued").
func (e *Engine) drainDueDelayed() {
	now := e.clock.Now()
	for len(e.delayed) > 0 && !e.delayed[0].fireAt.After(now) {
		entry := heap.Pop(&e.delayed).(delayedEntry)
		e.Enqueue(entry.rec)
	}
}

// RunToFixedPoint implements event.Host: iterates Step until the pending
// set is empty, per spec.md §4.6. Errors produced by individual targets
// are accumulated rather than aborting the run, matching "accumulated in
// a per-step exception buffer"; they're both returned (wrapped in an
// *exception.Aborting) to the immediate caller and appended to a
// longer-lived buffer package `engine`'s cycle drains once per cycle via
// [Engine.DrainExceptions], since a single engine cycle may trigger
// several independent RunToFixedPoint calls (one per top-level once-queue
// thunk) before its own "run propagation to fixed point" step runs.
func (e *Engine) RunToFixedPoint() error {
	e.propagationID++
	wasInPropagation := e.inPropagation
	e.inPropagation = true
	defer func() { e.inPropagation = wasInPropagation }()
	if !wasInPropagation {
		e.firedThisCycle = make(map[event.ID]bool)
	}

	var stepErrs []error
	e.drainDueDelayed()
	for len(e.order) > 0 {
		if err := e.step(&stepErrs); err != nil {
			stepErrs = append(stepErrs, err)
		}
	}

	e.fatalBuffer = append(e.fatalBuffer, stepErrs...)
	if len(stepErrs) == 0 {
		return nil
	}
	agg := exception.NewAborting()
	for _, err := range stepErrs {
		agg.Add(err)
	}
	return agg.ErrorOrNil()
}

// DrainExceptions returns and clears every exception accumulated across
// RunToFixedPoint calls since the last drain (spec.md §4.7's
// "fatal_event_errors" input to propagate_exceptions).
func (e *Engine) DrainExceptions() []error {
	out := e.fatalBuffer
	e.fatalBuffer = nil
	return out
}

// step executes spec.md §4.6's steps 1-6 once.
func (e *Engine) step(stepErrs *[]error) error {
	idx := e.pickTargetIndex()
	id := e.order[idx]
	e.order = append(e.order[:idx], e.order[idx+1:]...)
	entry := e.pending[id]
	delete(e.pending, id)

	if entry.conflict {
		*stepErrs = append(*stepErrs, exception.New(exception.PropagationError,
			"%s: call and forward records both targeted this generator in the same step", id))
		return nil
	}

	g := e.generators[id]
	if g == nil || !e.Executable(id) {
		return nil // target was finalized mid-cycle; drop silently
	}
	if e.firedThisCycle[id] && !g.AlwaysCall() {
		return nil
	}

	now := e.clock.Now()
	var sources []*event.Event
	var contexts []event.Context
	for _, key := range entry.keys {
		rec := entry.bySource[key]
		fireAt := rec.When.Resolve(now)
		if fireAt.After(now) {
			heap.Push(&e.delayed, delayedEntry{fireAt: fireAt, rec: rec})
			continue
		}
		if rec.From != nil {
			sources = append(sources, rec.From)
		}
		contexts = append(contexts, rec.Context)
	}
	if len(contexts) == 0 {
		return nil // every contribution was deferred
	}

	e.firedThisCycle[id] = true
	mergedCtx := mergeContexts(contexts)

	if entry.kind == event.KindSignal {
		if err := g.CallCommand(mergedCtx); err != nil {
			*stepErrs = append(*stepErrs, e.routed(id, err))
		}
		return nil
	}
	if _, err := g.EmitNow(mergedCtx, e.propagationID, sources); err != nil {
		*stepErrs = append(*stepErrs, e.routed(id, err))
	}
	return nil
}

// routed converts a plain *exception.RobyError produced by CallCommand or
// EmitNow into an *exception.ExecutionException whose Origin is the task
// owning id (or the free event itself, for an unbound generator), so
// package `engine`'s exception propagation (spec.md §4.7) has something to
// lift through Hierarchy. Errors that already carry an origin (e.g. a
// PropagationError, which never does) or aren't *exception.RobyError pass
// through unchanged.
func (e *Engine) routed(id event.ID, err error) error {
	re, ok := err.(*exception.RobyError)
	if !ok {
		return err
	}
	if t, ok := e.taskOwning(id); ok {
		return exception.NewException(re.Kind, t, re, "%s", re.Message)
	}
	if g, ok := e.generators[id]; ok {
		return exception.NewException(re.Kind, g, re, "%s", re.Message)
	}
	return err
}

// pickTargetIndex prefers a non-terminal target, ties broken by
// insertion order (spec.md §4.6 step 1).
func (e *Engine) pickTargetIndex() int {
	for i, id := range e.order {
		if !e.isTerminal(id) {
			return i
		}
	}
	return 0
}

func (e *Engine) isTerminal(id event.ID) bool {
	probe, ok := e.terminalProbe[id]
	if !ok {
		return false
	}
	return probe()
}

// mergeContexts assembles a single concatenated context from several
// contributions (spec.md §4.6 step 3). A single contribution passes
// through unchanged; several are wrapped in a tuple so no information is
// dropped.
func mergeContexts(contexts []event.Context) event.Context {
	if len(contexts) == 1 {
		return contexts[0]
	}
	vals := make([]cty.Value, len(contexts))
	for i, c := range contexts {
		if c.IsNull() || !c.IsKnown() {
			vals[i] = cty.NullVal(cty.DynamicPseudoType)
			continue
		}
		vals[i] = c
	}
	return cty.TupleVal(vals)
}
