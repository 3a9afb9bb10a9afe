// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package task

import (
	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/relation"
)

// ID identifies a task; tasks and their bound events share the same
// VertexID namespace as free events (spec.md §9, "id-to-id").
type ID = relation.VertexID

// Task is a stateful activity with a lifecycle and bound events
// (spec.md §3, §4.5). The zero value is not usable; use [New].
type Task struct {
	id   ID
	host event.Host

	signal     *relation.Graph
	forwarding *relation.Graph
	hierarchy  *relation.Graph

	Arguments *Arguments

	boundEvents map[string]*TaskEventGenerator
	state       State

	outcomeSet    bool
	success       bool
	failureReason error
	failureEvent  *event.Event

	executable  bool
	finalized   bool
	quarantined bool
	owners      []string

	exceptionHandlers exception.Chain
}

// New constructs a task with its four mandatory bound events (start, stop,
// success, failed) plus internal_error, wiring success/failed to forward
// to stop as required by spec.md §3's Task invariant. startCmd may be nil
// for a task whose start is externally driven (e.g. by a handler calling
// EmitNow directly rather than through a command).
func New(id ID, host event.Host, signal, forwarding, hierarchy *relation.Graph, startCmd, stopCmd event.Command) *Task {
	t := &Task{
		id:          id,
		host:        host,
		signal:      signal,
		forwarding:  forwarding,
		hierarchy:   hierarchy,
		Arguments:   NewArguments(),
		boundEvents: make(map[string]*TaskEventGenerator),
		executable:  true,
		owners:      []string{"self"},
	}

	t.boundEvents["start"] = newTaskEventGenerator(t, "start", startCmd != nil, startCmd)
	t.boundEvents["stop"] = newTaskEventGenerator(t, "stop", stopCmd != nil, stopCmd)
	t.boundEvents["success"] = newTaskEventGenerator(t, "success", false, nil)
	t.boundEvents["failed"] = newTaskEventGenerator(t, "failed", false, nil)
	t.boundEvents["internal_error"] = newTaskEventGenerator(t, "internal_error", false, nil)

	_ = t.boundEvents["success"].ForwardTo(t.boundEvents["stop"].Generator, event.TimeSpec{})
	_ = t.boundEvents["failed"].ForwardTo(t.boundEvents["stop"].Generator, event.TimeSpec{})
	_ = t.boundEvents["internal_error"].ForwardTo(t.boundEvents["failed"].Generator, event.TimeSpec{})

	t.boundEvents["start"].AddFiredHook(func(ev *event.Event) {
		if t.state == Starting {
			t.state = Running
		}
	})
	t.boundEvents["stop"].AddEmittingHook(func(ctx event.Context) {
		if t.state == Running {
			t.state = Finishing
		}
	})
	t.boundEvents["stop"].AddFiredHook(func(ev *event.Event) {
		t.state = Finished
	})
	t.boundEvents["success"].AddFiredHook(func(ev *event.Event) {
		if !t.outcomeSet {
			t.outcomeSet = true
			t.success = true
		}
	})
	t.boundEvents["failed"].AddFiredHook(func(ev *event.Event) {
		if !t.outcomeSet {
			t.outcomeSet = true
			t.success = false
			t.failureEvent = ev
		}
	})

	return t
}

// ID returns the task's stable identifier.
func (t *Task) ID() ID { return t.id }

// OriginID implements exception.Origin, identifying the task in an
// ExecutionException's Identity (spec.md §4.7).
func (t *Task) OriginID() string { return string(t.id) }

// OriginLabel implements exception.Origin, used in log lines and
// Error() text.
func (t *Task) OriginLabel() string { return string(t.id) }

// OnException registers an exception handler under matcher, tried before
// every handler already registered on this task (spec.md §6
// "on_exception(matcher) at ... task level", §4.7 "invoke its handler
// chain (most-specific first)").
func (t *Task) OnException(matcher exception.Matcher, handler exception.Handler) {
	t.exceptionHandlers.Add(matcher, handler)
}

// HandleException runs this task's handler chain against exc, per
// spec.md §4.7 step "At each task, invoke its handler chain". The
// returned error, if non-nil, is a handler panic recovered and wrapped;
// it never changes the Disposition away from Passed.
func (t *Task) HandleException(exc *exception.ExecutionException) (exception.Disposition, error) {
	return t.exceptionHandlers.Run(exc)
}

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// Running reports state == Running (spec.md §4.5 invariant).
func (t *Task) Running() bool { return t.state == Running }

// Finished reports state == Finished.
func (t *Task) Finished() bool { return t.state == Finished }

// Success reports whether the first terminal branch to fire was success.
// Meaningless (false) until Finished.
func (t *Task) Success() bool { return t.outcomeSet && t.success }

// Failed reports whether the first terminal branch to fire was failed.
func (t *Task) Failed() bool { return t.outcomeSet && !t.success }

// FailureEvent returns the Event that set the failure outcome, if any.
func (t *Task) FailureEvent() *event.Event { return t.failureEvent }

// Event returns the bound event generator for symbol, or nil.
func (t *Task) Event(symbol string) *TaskEventGenerator { return t.boundEvents[symbol] }

// Events returns every bound event generator, in no particular order.
func (t *Task) Events() []*TaskEventGenerator {
	out := make([]*TaskEventGenerator, 0, len(t.boundEvents))
	for _, teg := range t.boundEvents {
		out = append(out, teg)
	}
	return out
}

// AddBoundEvent registers an additional model-defined event under symbol,
// for task models richer than the five mandatory events.
func (t *Task) AddBoundEvent(symbol string, controllable bool, cmd event.Command) *TaskEventGenerator {
	teg := newTaskEventGenerator(t, symbol, controllable, cmd)
	t.boundEvents[symbol] = teg
	return teg
}

// Executable reports whether the task still accepts call/emit on its
// bound events (spec.md §4.5: "once executable? becomes false ... all
// bound generators refuse both call and emit").
func (t *Task) Executable() bool { return t.executable && !t.finalized && !t.quarantined }

// SetExecutable flips the executable flag (plan-level control, e.g. while
// under a non-executable Template plan).
func (t *Task) SetExecutable(v bool) { t.executable = v }

// ReadWrite reports whether the local process is among the task's owners
// (spec.md §3 PlanObject).
func (t *Task) ReadWrite() bool { return len(t.owners) == 0 || t.owners[0] == "self" }

// Finalize marks the task finalized (GC'd): bound generators become
// non-executable per spec.md §4.5.
func (t *Task) Finalize() { t.finalized = true }

// Finalized reports whether Finalize has been called.
func (t *Task) Finalized() bool { return t.finalized }

// Quarantine marks the task quarantined (spec.md §4.7): it refused to
// stop and is excluded from further GC attempts.
func (t *Task) Quarantine() { t.quarantined = true }

// Quarantined reports whether Quarantine has been called.
func (t *Task) Quarantined() bool { return t.quarantined }

// Start admits start.call, per spec.md §4.5: rejected unless Pending;
// freezes delayed arguments first, failing to FailedToStart if a
// non-weak resolver can't produce a value.
func (t *Task) Start(ctx event.Context) error {
	if t.state != Pending {
		return exception.New(exception.EmissionRejected, "%s: start rejected, task is %s", t.id, t.state)
	}
	if err := t.Arguments.Freeze(t); err != nil {
		t.state = FailedToStart
		return err
	}
	t.state = Starting
	startEv := t.boundEvents["start"]
	if startEv.Controllable() {
		return startEv.Call(ctx)
	}
	_, err := startEv.EmitNow(ctx, 0, nil)
	return err
}

// EmitFailedToStart transitions the task to FailedToStart, used when
// start's command fails outright rather than merely being rejected.
func (t *Task) EmitFailedToStart(cause error) {
	if t.state.Terminal() {
		return
	}
	t.state = FailedToStart
	t.failureEvent = nil
	t.outcomeSet = true
	t.success = false
}

// checkEmit is the admission rule for every event other than start,
// terminal ones included: emitting it is rejected unless the task is
// Running or Finishing (start again on a running task is rejected,
// already covered by Start's own Pending check).
func (t *Task) checkEmit(symbol string) error {
	if symbol == "start" {
		return nil
	}
	if t.state != Running && t.state != Finishing {
		return exception.New(exception.EmissionRejected,
			"%s: emitting %q rejected, task is %s (must be running)", t.id, symbol, t.state)
	}
	return nil
}

// Emit is a convenience wrapper that applies checkEmit before delegating
// to the bound event's own Emit.
func (t *Task) Emit(symbol string, ctx event.Context) error {
	if err := t.checkEmit(symbol); err != nil {
		return err
	}
	teg, ok := t.boundEvents[symbol]
	if !ok {
		return exception.New(exception.EventNotExecutable, "%s: no bound event %q", t.id, symbol)
	}
	return teg.Emit(ctx)
}
