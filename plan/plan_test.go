// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"testing"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/task"
)

type fakeHost struct {
	now        time.Time
	generators map[event.ID]*event.Generator
	queue      []event.Record
	propID     int
}

func newFakeHost() *fakeHost {
	return &fakeHost{now: time.Unix(0, 0), generators: make(map[event.ID]*event.Generator)}
}

func (h *fakeHost) Now() time.Time           { return h.now }
func (h *fakeHost) OnEngineThread() bool     { return true }
func (h *fakeHost) InPropagation() bool      { return false }
func (h *fakeHost) Enqueue(rec event.Record) { h.queue = append(h.queue, rec) }
func (h *fakeHost) Executable(id event.ID) bool { return true }

func (h *fakeHost) RunToFixedPoint() error {
	h.propID++
	for len(h.queue) > 0 {
		rec := h.queue[0]
		h.queue = h.queue[1:]
		g := h.generators[rec.To]
		if rec.Kind == event.KindSignal {
			if err := g.CallCommand(rec.Context); err != nil {
				return err
			}
		} else if _, err := g.EmitNow(rec.Context, h.propID, nil); err != nil {
			return err
		}
	}
	return nil
}

func newTestPlan() (*Plan, *fakeHost) {
	return New(nil), newFakeHost()
}

func newTestTask(p *Plan, h *fakeHost, id task.ID) *task.Task {
	startCmd := func(g *event.Generator, ctx event.Context) error {
		_, err := g.EmitNow(ctx, 0, nil)
		return err
	}
	stopCmd := func(g *event.Generator, ctx event.Context) error {
		_, err := g.EmitNow(ctx, 0, nil)
		return err
	}
	t := task.New(id, h, p.Signal, p.Forwarding, p.Hierarchy, startCmd, stopCmd)
	for _, teg := range t.Events() {
		h.generators[teg.ID()] = teg.Generator
	}
	return t
}

func TestRegisterAndLookupTask(t *testing.T) {
	p, h := newTestPlan()
	tk := newTestTask(p, h, "t1")
	if err := p.RegisterTask(tk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := p.Task("t1")
	if !ok || got != tk {
		t.Fatalf("expected to find the registered task back")
	}
}

func TestRemoveTaskRejectsRunning(t *testing.T) {
	p, h := newTestPlan()
	tk := newTestTask(p, h, "t1")
	_ = p.RegisterTask(tk)
	_ = tk.Start(cty.NilVal)
	_ = h.RunToFixedPoint()

	if err := p.RemoveTask(tk); err == nil {
		t.Fatalf("expected removing a running task to be rejected")
	}
}

func TestGarbageCollectKeepsMissionSubtree(t *testing.T) {
	p, h := newTestPlan()
	parent := newTestTask(p, h, "parent")
	child := newTestTask(p, h, "child")
	orphan := newTestTask(p, h, "orphan")
	_ = p.RegisterTask(parent)
	_ = p.RegisterTask(child)
	_ = p.RegisterTask(orphan)

	if err := p.Hierarchy.AddEdge("parent", "child", nil); err != nil {
		t.Fatalf("unexpected error wiring hierarchy: %v", err)
	}
	p.AddMission(parent)

	finalized, err := p.GarbageCollect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(finalized) != 1 || finalized[0] != "orphan" {
		t.Fatalf("expected only the orphan to be collected, got %v", finalized)
	}
	if _, ok := p.Task("parent"); !ok {
		t.Fatalf("expected mission task to survive GC")
	}
	if _, ok := p.Task("child"); !ok {
		t.Fatalf("expected mission's hierarchy child to survive GC")
	}
	if _, ok := p.Task("orphan"); ok {
		t.Fatalf("expected the orphan task to be finalized")
	}
}

func TestGarbageCollectSkipsRunningTasks(t *testing.T) {
	p, h := newTestPlan()
	tk := newTestTask(p, h, "t1")
	_ = p.RegisterTask(tk)
	_ = tk.Start(cty.NilVal)
	_ = h.RunToFixedPoint()

	finalized, err := p.GarbageCollect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(finalized) != 0 {
		t.Fatalf("expected a running, non-mission task to survive GC, got finalized=%v", finalized)
	}
}

func TestFinalizedTaskCannotBeReRegistered(t *testing.T) {
	p, h := newTestPlan()
	tk := newTestTask(p, h, "t1")
	_ = p.RegisterTask(tk)
	_, _ = p.GarbageCollect()
	if err := p.RemoveTask(tk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.RegisterTask(tk); err == nil {
		t.Fatalf("expected re-registering a finalized task to fail with ReusingGarbage")
	}
}

func TestMatcherFiltersByStateAndArg(t *testing.T) {
	p, h := newTestPlan()
	running := newTestTask(p, h, "running")
	pending := newTestTask(p, h, "pending")
	_ = p.RegisterTask(running)
	_ = p.RegisterTask(pending)
	_ = running.Arguments.Set("kind", cty.StringVal("worker"))
	_ = pending.Arguments.Set("kind", cty.StringVal("watcher"))
	_ = running.Start(cty.NilVal)
	_ = h.RunToFixedPoint()

	matched := NewMatcher().WithState(func(s task.State) bool { return s == task.Running }).Match(p)
	if len(matched) != 1 || matched[0] != running {
		t.Fatalf("expected only the running task to match, got %v", matched)
	}

	matched = NewMatcher().WithArg("kind", func(v cty.Value) bool { return v.AsString() == "watcher" }).Match(p)
	if len(matched) != 1 || matched[0] != pending {
		t.Fatalf("expected only the watcher-kind task to match, got %v", matched)
	}
}

func TestDebugTreeRendersMissionHierarchy(t *testing.T) {
	p, h := newTestPlan()
	parent := newTestTask(p, h, "parent")
	child := newTestTask(p, h, "child")
	_ = p.RegisterTask(parent)
	_ = p.RegisterTask(child)
	_ = p.Hierarchy.AddEdge("parent", "child", nil)
	p.AddMission(parent)

	out := p.DebugTree()
	if out == "" {
		t.Fatalf("expected a non-empty debug tree")
	}
}

func TestTransactionCommitAppliesStagedRegistrations(t *testing.T) {
	p, h := newTestPlan()
	tk := newTestTask(p, h, "t1")

	tx := p.NewTransaction()
	tx.RegisterTask(tk)
	tx.AddMission(tk)
	if err := tx.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.Task("t1"); !ok {
		t.Fatalf("expected transaction commit to register the task")
	}
	if !p.IsMission("t1") {
		t.Fatalf("expected transaction commit to mark the task a mission")
	}
}
