// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"testing"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/plan"
	"github.com/rock-core/roby-go/robyclock"
	"github.com/rock-core/roby-go/task"
)

// newTestEngine wires a Plan through a propagation.Engine and a fresh
// Engine on top, using a Fake clock so tests never sleep for real.
func newTestEngine() (*Engine, *plan.Plan, *robyclock.Fake) {
	p := plan.New(nil)
	clock := robyclock.NewFake(time.Unix(0, 0))
	e := New(p, clock, nil)
	return e, p, clock
}

// newTestTask builds a task whose start/stop are plain, uncontrolled
// events (emitted directly rather than through a command), registered
// with both the Plan and the Engine.
func newTestTask(t *testing.T, e *Engine, id task.ID) *task.Task {
	t.Helper()
	tk := task.New(id, e.Prop, e.Plan.Signal, e.Plan.Forwarding, e.Plan.Hierarchy, nil, nil)
	if err := e.Plan.RegisterTask(tk); err != nil {
		t.Fatalf("RegisterTask(%s): %v", id, err)
	}
	if err := e.RegisterTask(tk); err != nil {
		t.Fatalf("engine.RegisterTask(%s): %v", id, err)
	}
	return tk
}

func startTask(t *testing.T, tk *task.Task) {
	t.Helper()
	if err := tk.Start(cty.NilVal); err != nil {
		t.Fatalf("%s.Start: %v", tk.ID(), err)
	}
}

func TestCycleRunsOnceAndHooks(t *testing.T) {
	e, _, _ := newTestEngine()

	var eachCycle, atCycleEnd int
	e.EachCycle(func() { eachCycle++ })
	e.AtCycleEnd(func() { atCycleEnd++ })

	var onceRan bool
	e.Once(func() { onceRan = true })

	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !onceRan {
		t.Fatal("Once thunk did not run")
	}
	if eachCycle != 1 || atCycleEnd != 1 {
		t.Fatalf("eachCycle=%d atCycleEnd=%d, want 1 and 1", eachCycle, atCycleEnd)
	}
}

func TestEveryTimerDrainsOnDeadline(t *testing.T) {
	e, _, clock := newTestEngine()

	var fired int
	e.Every(10*time.Second, func() { fired++ })

	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if fired != 0 {
		t.Fatalf("fired=%d before deadline, want 0", fired)
	}

	clock.Advance(11 * time.Second)
	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired=%d after deadline, want 1", fired)
	}
}

func TestStructureCheckRoutesThroughPlanHandler(t *testing.T) {
	e, p, _ := newTestEngine()

	var handled int
	p.OnException(exception.MatchKind("PhaseMismatch"), func(exc *exception.ExecutionException) exception.Disposition {
		handled++
		return exception.Handled
	})

	g := event.New("free_event", e.Prop, false, nil, p.Signal, p.Forwarding)
	if err := p.RegisterEvent(g); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if err := e.RegisterEvent(g); err != nil {
		t.Fatalf("engine.RegisterEvent: %v", err)
	}

	e.AddStructureCheck(func(p *plan.Plan) []error {
		return []error{exception.NewException(exception.Kind("PhaseMismatch"), g, nil, "boom")}
	})

	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if handled != 1 {
		t.Fatalf("plan handler ran %d times, want 1", handled)
	}
}

// TestExceptionLiftsToParentAndIsHandled is scenario S5: a child C raises
// a custom-Kind internal error; C has no handler of its own, so the
// exception lifts to its Hierarchy parent P, which handles it. Neither
// task should end up in the kill set, but C does finish (internal_error
// forwards to failed forwards to stop, per task.New's default wiring).
func TestExceptionLiftsToParentAndIsHandled(t *testing.T) {
	e, p, _ := newTestEngine()

	parent := newTestTask(t, e, "P")
	child := newTestTask(t, e, "C")
	if err := p.Hierarchy.AddEdge(parent.ID(), child.ID(), nil); err != nil {
		t.Fatalf("Hierarchy.AddEdge: %v", err)
	}
	p.AddMission(parent)

	startTask(t, parent)
	startTask(t, child)
	if err := e.Cycle(); err != nil {
		t.Fatalf("startup cycle: %v", err)
	}

	const codeError = exception.Kind("CodeError")
	var handledAt task.ID
	parent.OnException(exception.MatchKind(codeError), func(exc *exception.ExecutionException) exception.Disposition {
		handledAt = exc.Current().(*task.Task).ID()
		return exception.Handled
	})

	e.Once(func() {
		if err := e.RaiseInternalError(child, codeError, nil, cty.NilVal); err != nil {
			t.Fatalf("RaiseInternalError: %v", err)
		}
	})

	if err := e.Cycle(); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	if handledAt != parent.ID() {
		t.Fatalf("handler saw Current()=%q, want %q", handledAt, parent.ID())
	}
	if !child.Finished() || !child.Failed() {
		t.Fatalf("child state=%v success=%v, want Finished+Failed", child.State(), child.Success())
	}
	if _, ok := p.Task(parent.ID()); !ok {
		t.Fatal("parent was finalized, want kept (exception was handled)")
	}
	if _, ok := p.Task(child.ID()); !ok {
		t.Fatal("child was finalized by GC, want kept (it is in the mission's Hierarchy subtree)")
	}
}

// TestMissionFailureIsFatalAndKillsTask is scenario S6: M is a mission;
// once M.failed fires, the engine must inject a MissionFailedError into
// the same cycle's exception pipeline. Left unhandled, it's fatal, and M
// ends up finalized by the cycle's own garbage collection pass.
func TestMissionFailureIsFatalAndKillsTask(t *testing.T) {
	e, p, _ := newTestEngine()

	m := newTestTask(t, e, "M")
	p.AddMission(m)

	startTask(t, m)
	if err := e.Cycle(); err != nil {
		t.Fatalf("startup cycle: %v", err)
	}
	if !m.Running() {
		t.Fatalf("mission state=%v, want Running", m.State())
	}

	e.Once(func() {
		if err := m.Emit("failed", cty.NilVal); err != nil {
			t.Fatalf("emit failed: %v", err)
		}
	})

	err := e.Cycle()
	if err == nil {
		t.Fatal("Cycle returned nil, want a fatal *exception.Aborting for the unhandled mission failure")
	}
	agg, ok := err.(*exception.Aborting)
	if !ok {
		t.Fatalf("Cycle error is %T, want *exception.Aborting", err)
	}
	var sawMissionFailed bool
	for _, exc := range agg.Exceptions() {
		if exc.Kind == exception.MissionFailedError {
			sawMissionFailed = true
		}
	}
	if !sawMissionFailed {
		t.Fatalf("Aborting %v does not contain MissionFailedError", agg)
	}

	if _, ok := p.Task(m.ID()); ok {
		t.Fatal("mission task still registered, want finalized by the cycle's GC pass")
	}
}

func TestQuitEscalation(t *testing.T) {
	e, _, _ := newTestEngine()
	if e.quitLevel() != quitNone {
		t.Fatalf("quitLevel=%v before any Quit, want quitNone", e.quitLevel())
	}
	e.Quit()
	if e.quitLevel() != quitRequested {
		t.Fatalf("quitLevel=%v after first Quit, want quitRequested", e.quitLevel())
	}
	e.Quit()
	if e.quitLevel() != quitShortened {
		t.Fatalf("quitLevel=%v after second Quit, want quitShortened", e.quitLevel())
	}
	e.Quit()
	if e.quitLevel() != quitForced {
		t.Fatalf("quitLevel=%v after third Quit, want quitForced", e.quitLevel())
	}
	e.Quit()
	if e.quitLevel() != quitForced {
		t.Fatal("quitLevel escalated past quitForced")
	}
}
