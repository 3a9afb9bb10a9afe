// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package engine implements the top-level ExecutionEngine cycle (spec.md
// §4.7): the loop that drains external submissions, runs propagation to a
// fixed point, collects structural and fatal-event errors, routes them up
// Hierarchy and through plan-level handlers, garbage-collects whatever is
// left unhandled, drains "every N seconds" timers, and paces itself to
// cycle_length. Everything below this layer (propagation, the task/event
// state machines, the relation substrate) is driven entirely through it.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/logging"
	"github.com/rock-core/roby-go/plan"
	"github.com/rock-core/roby-go/propagation"
	"github.com/rock-core/roby-go/robyclock"
	"github.com/rock-core/roby-go/task"
)

// Config configures a Run call. It has no detach option: Run executes the
// loop on the calling goroutine.
type Config struct {
	// CycleLength paces the loop: each Cycle is followed by a sleep long
	// enough to make the cycle take at least this long, wall-clock.
	CycleLength time.Duration
	// ControlGC disables the cycle's automatic garbage collection when
	// true, for an embedder that wants to drive GarbageCollect itself
	// (e.g. from a console command).
	ControlGC bool
}

// quitLevel tracks spec.md §5's three-stage shutdown escalation ("quit
// sets a flag ... A second quit shortens the wait; a third raises an
// interrupt into the engine thread").
type quitLevel int

const (
	quitNone quitLevel = iota
	quitRequested
	quitShortened
	quitForced
)

// Engine drives one Plan's execution cycle. The zero value is not usable;
// use [New].
type Engine struct {
	Plan *plan.Plan
	Prop *propagation.Engine

	clock  robyclock.Clock
	sink   logging.Sink
	config Config

	structureChecks []func(*plan.Plan) []error
	eachCycle       []func()
	atCycleEnd      []func()
	everyTimers     []*everyTimer

	mu                sync.Mutex
	quit              quitLevel
	pendingExceptions []*exception.ExecutionException
}

// New returns an Engine driving p via a freshly constructed
// propagation.Engine, using clock for every time-dependent decision.
func New(p *plan.Plan, clock robyclock.Clock, sink logging.Sink) *Engine {
	if sink == nil {
		sink = logging.Noop
	}
	return &Engine{
		Plan:  p,
		Prop:  propagation.New(p, clock),
		clock: clock,
		sink:  sink,
	}
}

// RegisterTask registers t with both the Plan and the propagation engine,
// and additionally wires its "failed" event to spec.md §4.7's mission/
// permanent failure routing (S6: "Mark M as mission; M.failed emits.
// Expect: within the same cycle, a MissionFailedError is injected into the
// plan-level exception pipeline").
func (e *Engine) RegisterTask(t *task.Task) error {
	if err := e.Prop.RegisterTask(t); err != nil {
		return err
	}
	failed := t.Event("failed")
	if failed == nil {
		return nil
	}
	failed.AddFiredHook(func(*event.Event) {
		switch {
		case e.Plan.IsMission(t.ID()):
			e.pendingExceptions = append(e.pendingExceptions, exception.NewException(
				exception.MissionFailedError, t, nil, "mission %s failed", t.ID()))
		case e.Plan.IsPermanent(t.ID()):
			e.pendingExceptions = append(e.pendingExceptions, exception.NewException(
				exception.PermanentTaskError, t, nil, "permanent task %s failed", t.ID()))
		}
	})
	return nil
}

// RaiseInternalError emits t's internal_error event and injects a
// kind-tagged *exception.ExecutionException with origin t into the next
// cycle's exception pipeline (spec.md §4.7: internal_error is how a task
// reports a code-level fault rather than a plain command/emission
// failure, so it needs an explicit carrier since event.Context itself
// carries no error channel).
func (e *Engine) RaiseInternalError(t *task.Task, kind exception.Kind, cause error, ctx event.Context) error {
	e.pendingExceptions = append(e.pendingExceptions,
		exception.NewException(kind, t, cause, "%s: internal error", t.ID()))
	return t.Emit("internal_error", ctx)
}

// RegisterEvent registers a free event with both the Plan and the
// propagation engine.
func (e *Engine) RegisterEvent(g *event.Generator) error {
	return e.Prop.RegisterEvent(g)
}

// AddStructureCheck registers a structure-check handler run once per
// cycle (spec.md §4.7 "run each structure-check handler → collect
// structure_errors"). Errors it returns feed the same exception-routing
// pipeline as fatal propagation errors; return *exception.ExecutionException
// (built with [exception.NewException] against whichever task or event the
// check implicates) so the error can be routed through Hierarchy and
// handler chains like any other. A plain error is dropped after logging,
// since there's no origin to route it from.
func (e *Engine) AddStructureCheck(f func(*plan.Plan) []error) {
	e.structureChecks = append(e.structureChecks, f)
}

// EachCycle registers f to run once at the start of every cycle, after
// submissions are drained but before propagation runs (spec.md §6
// "each_cycle").
func (e *Engine) EachCycle(f func()) {
	e.eachCycle = append(e.eachCycle, f)
}

// AtCycleEnd registers f to run once at the very end of every cycle, after
// garbage collection and timers (spec.md §6 "at_cycle_end").
func (e *Engine) AtCycleEnd(f func()) {
	e.atCycleEnd = append(e.atCycleEnd, f)
}

// Once enqueues f to run on the engine thread at the start of the next
// cycle (spec.md §6 "once").
func (e *Engine) Once(f func()) { e.Prop.Once(f) }

// Execute runs f on the engine thread, blocking the caller until it has,
// per spec.md §6's "execute { … } blocking trampoline".
func (e *Engine) Execute(f func()) { e.Prop.Execute(f) }

// WaitUntil blocks the calling goroutine until g emits at least once.
// Safe to call from any thread: registration against g happens on the
// engine thread via Execute, so it never races a concurrent cycle.
func (e *Engine) WaitUntil(g *event.Generator) {
	done := make(chan struct{})
	e.Execute(func() {
		if g.Happened() {
			close(done)
			return
		}
		g.On(func(*event.Event) {
			select {
			case <-done:
			default:
				close(done)
			}
		}, event.WithOnce)
	})
	<-done
}

// Quit requests an orderly shutdown, escalating on repeated calls per
// spec.md §5: the first call arms the shutdown path taken at the next
// cycle boundary, the second shortens however long Run waits for tasks to
// stop, and the third makes Run return before it starts another cycle (a
// cycle already in progress is not interrupted).
func (e *Engine) Quit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.quit < quitForced {
		e.quit++
	}
}

// QuitNow jumps straight to the forced-shutdown level.
func (e *Engine) QuitNow() {
	e.mu.Lock()
	e.quit = quitForced
	e.mu.Unlock()
}

func (e *Engine) quitLevel() quitLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quit
}

// Run repeatedly executes Cycle, pacing each iteration to config's
// CycleLength, until ctx is cancelled or a quit request's shutdown path
// completes (spec.md §4.7's pseudocode plus §5's quit escalation).
func (e *Engine) Run(ctx context.Context, config Config) error {
	e.config = config
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.quitLevel() == quitForced {
			return nil
		}
		start := e.clock.Monotonic()
		if err := e.Cycle(); err != nil {
			return err
		}
		if level := e.quitLevel(); level >= quitRequested {
			if e.shutdownComplete(level) {
				return nil
			}
		}
		elapsed := e.clock.Monotonic() - start
		if e.config.CycleLength > elapsed {
			e.clock.Sleep(e.config.CycleLength - elapsed)
		}
	}
}

// shutdownComplete reports whether quit's orderly-shutdown path ("garbage-
// collects missions, waits for tasks to stop") has finished: every mission
// has been unmarked and every task has stopped. quitShortened treats
// "waits for tasks to stop" as already satisfied, per spec.md §5 "a second
// quit shortens the wait".
func (e *Engine) shutdownComplete(level quitLevel) bool {
	for _, t := range e.Plan.Tasks() {
		if e.Plan.IsMission(t.ID()) {
			e.Plan.UnmarkMission(t)
		}
	}
	if level >= quitShortened {
		return true
	}
	for _, t := range e.Plan.Tasks() {
		if t.Running() && !t.Finished() {
			return false
		}
	}
	return true
}
