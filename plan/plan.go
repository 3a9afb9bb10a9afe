// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package plan implements Plan (spec.md §3, §4.2): the container owning a
// plan's tasks and free events, their relation graphs, and the mission/
// permanent usefulness roots the garbage collector consults.
package plan

import (
	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/relation"
	"github.com/rock-core/roby-go/task"
)

// Standard relation kinds, registered once per process and shared by every
// Plan: "Signal ⊆ CausalLink ⊆ Precedence" per spec.md §3.
var (
	HierarchyKind  = relation.NewKind("Hierarchy", true, true, false, true, false)
	SignalKind     = relation.NewKind("Signal", false, true, false, true, true)
	ForwardingKind = relation.NewKind("Forwarding", false, true, false, true, true)
	CausalLinkKind = relation.NewKind("CausalLink", true, true, false, true, false)
	PrecedenceKind = relation.NewKind("Precedence", true, false, false, true, false)
)

func init() {
	SignalKind.DeclareSubsetOf(CausalLinkKind)
	ForwardingKind.DeclareSubsetOf(CausalLinkKind)
	CausalLinkKind.DeclareSubsetOf(PrecedenceKind)
}

// Plan owns the set of tasks and free events, mediates membership, and
// maintains the relation graphs they live in (spec.md §3 "Plan").
type Plan struct {
	tasks      map[task.ID]*task.Task
	freeEvents map[event.ID]*event.Generator

	missions  map[task.ID]bool
	permanent map[task.ID]bool
	forceGC   map[task.ID]bool

	finalized map[relation.VertexID]bool

	Hierarchy  *relation.Graph
	Signal     *relation.Graph
	Forwarding *relation.Graph
	CausalLink *relation.Graph
	Precedence *relation.Graph

	executable bool
	sink       Sink

	exceptionHandlers exception.Chain

	transactions []*Transaction
}

// Sink is the narrow logging interface Plan calls for every structural
// mutation (spec.md §6 "Logging sink"). Satisfied by logging.Sink.
type Sink interface {
	Log(kind string, args ...any)
}

type noopSink struct{}

func (noopSink) Log(string, ...any) {}

// New returns an empty, executable Plan.
func New(sink Sink) *Plan {
	if sink == nil {
		sink = noopSink{}
	}
	p := &Plan{
		tasks:      make(map[task.ID]*task.Task),
		freeEvents: make(map[event.ID]*event.Generator),
		missions:   make(map[task.ID]bool),
		permanent:  make(map[task.ID]bool),
		forceGC:    make(map[task.ID]bool),
		finalized:  make(map[relation.VertexID]bool),
		Hierarchy:  relation.New(HierarchyKind),
		Signal:     relation.New(SignalKind),
		Forwarding: relation.New(ForwardingKind),
		CausalLink: relation.New(CausalLinkKind),
		Precedence: relation.New(PrecedenceKind),
		executable: true,
		sink:       sink,
	}
	relation.RegisterFamily(p.Signal, p.Forwarding, p.CausalLink, p.Precedence)
	p.Hierarchy.SetListener(planListener{p})
	p.Signal.SetListener(planListener{p})
	p.Forwarding.SetListener(planListener{p})
	return p
}

// Executable reports whether the plan currently accepts structural
// mutations (false under a Template-style staging plan).
func (p *Plan) Executable() bool { return p.executable }

// SetExecutable toggles the plan's executable flag.
func (p *Plan) SetExecutable(v bool) { p.executable = v }

// RegisterTask inserts t into the plan (spec.md §4.2 "register_task"),
// failing with ReusingGarbage if t was already finalized.
func (p *Plan) RegisterTask(t *task.Task) error {
	if p.finalized[t.ID()] {
		return exception.New(exception.ReusingGarbage, "task %s was already finalized", t.ID())
	}
	p.tasks[t.ID()] = t
	p.sink.Log("task_added", t.ID())
	return nil
}

// RegisterEvent inserts a free event into the plan.
func (p *Plan) RegisterEvent(g *event.Generator) error {
	if p.finalized[g.ID()] {
		return exception.New(exception.ReusingGarbage, "event %s was already finalized", g.ID())
	}
	p.freeEvents[g.ID()] = g
	p.sink.Log("event_added", g.ID())
	return nil
}

// Task looks up a registered task by id.
func (p *Plan) Task(id task.ID) (*task.Task, bool) { t, ok := p.tasks[id]; return t, ok }

// Event looks up a registered free event by id.
func (p *Plan) Event(id event.ID) (*event.Generator, bool) { g, ok := p.freeEvents[id]; return g, ok }

// Tasks returns every registered task, in no particular order.
func (p *Plan) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t)
	}
	return out
}

// AddMission marks t as a mission: a usefulness root the operator
// externally requested (spec.md §4.2).
func (p *Plan) AddMission(t *task.Task) { p.missions[t.ID()] = true }

// UnmarkMission removes t from the mission set.
func (p *Plan) UnmarkMission(t *task.Task) { delete(p.missions, t.ID()) }

// IsMission reports whether t is currently a mission.
func (p *Plan) IsMission(id task.ID) bool { return p.missions[id] }

// AddPermanent marks t permanent: a usefulness root that isn't tied to any
// external request (spec.md §4.2).
func (p *Plan) AddPermanent(t *task.Task) { p.permanent[t.ID()] = true }

// RemovePermanent removes t from the permanent set.
func (p *Plan) RemovePermanent(t *task.Task) { delete(p.permanent, t.ID()) }

// IsPermanent reports whether t is currently permanent.
func (p *Plan) IsPermanent(id task.ID) bool { return p.permanent[id] }

// OnException registers a plan-level exception handler (spec.md §6
// "on_exception(matcher) at ... plan level"), consulted last against
// whatever is still unhandled once every task's own handler chain has had
// a turn (spec.md §4.7 "Global plan-level handlers are consulted last for
// the fatal set").
func (p *Plan) OnException(matcher exception.Matcher, handler exception.Handler) {
	p.exceptionHandlers.Add(matcher, handler)
}

// HandlePlanException runs the plan-level handler chain against exc.
func (p *Plan) HandlePlanException(exc *exception.ExecutionException) (exception.Disposition, error) {
	return p.exceptionHandlers.Run(exc)
}

// ForceGC adds t to the force-GC set: a task the operator wants collected
// regardless of usefulness, honored once it becomes finalizable.
func (p *Plan) ForceGC(t *task.Task) { p.forceGC[t.ID()] = true }

// RemoveTask removes t from the plan outright, failing if it's still
// running (a running task must stop before anything finalizes it), per
// spec.md §4.2 "remove_task".
func (p *Plan) RemoveTask(t *task.Task) error {
	if t.Running() && !t.Finished() {
		return exception.New(exception.OwnershipError, "task %s is running, cannot be removed directly", t.ID())
	}
	p.finalizeTask(t)
	return nil
}

// RemoveFreeEvent removes a free event, refusing if it still has strong
// parent relations (a parent in Signal or Forwarding) unless removeStrong
// is set (spec.md §4.2 "remove_free_event").
func (p *Plan) RemoveFreeEvent(g *event.Generator, removeStrong bool) error {
	if !removeStrong {
		for _, rg := range []*relation.Graph{p.Signal, p.Forwarding} {
			if len(rg.ParentsOf(g.ID())) > 0 {
				return exception.New(exception.OwnershipError,
					"event %s has strong parents, pass removeStrong to force", g.ID())
			}
		}
	}
	p.Hierarchy.RemoveVertex(g.ID())
	p.Signal.RemoveVertex(g.ID())
	p.Forwarding.RemoveVertex(g.ID())
	delete(p.freeEvents, g.ID())
	p.finalized[g.ID()] = true
	p.sink.Log("event_removed", g.ID())
	return nil
}

func (p *Plan) isTaskVertex(id relation.VertexID) bool {
	_, ok := p.tasks[id]
	return ok
}

func (p *Plan) finalizeTask(t *task.Task) {
	t.Finalize()
	p.Hierarchy.RemoveVertex(t.ID())
	p.Signal.RemoveVertex(t.ID())
	p.Forwarding.RemoveVertex(t.ID())
	for _, teg := range t.Events() {
		p.Signal.RemoveVertex(teg.ID())
		p.Forwarding.RemoveVertex(teg.ID())
		p.finalized[teg.ID()] = true
	}
	delete(p.tasks, t.ID())
	delete(p.missions, t.ID())
	delete(p.permanent, t.ID())
	delete(p.forceGC, t.ID())
	p.finalized[t.ID()] = true
	p.sink.Log("task_finalized", t.ID())
}

// planListener implements relation.Listener, enforcing spec.md §4.2's
// "executable plans refuse edges that introduce cycles in any DAG
// relation and refuse edges touching a garbage or non-owned vertex", and
// firing added/removed hooks to the plan's logging sink. Cycle rejection
// itself is already handled inside relation.Graph.AddEdge; this listener
// adds the plan-level garbage veto on top (an edge touching a finalized
// vertex). It does not check ownership: an edge touching a non-owned
// vertex is accepted.
type planListener struct{ p *Plan }

func (l planListener) AddingEdge(g *relation.Graph, from, to relation.VertexID, info relation.EdgeInfo) error {
	if !l.p.executable {
		return nil
	}
	if l.p.finalized[from] || l.p.finalized[to] {
		return exception.New(exception.ReusingGarbage, "relation %s: %s or %s is finalized", g.Kind.Name, from, to)
	}
	return nil
}

func (l planListener) AddedEdge(g *relation.Graph, from, to relation.VertexID, info relation.EdgeInfo) {
	l.p.invalidateTerminalFlags(from, to)
	l.p.sink.Log("relation_added", g.Kind.Name, from, to)
}

func (l planListener) RemovingEdge(g *relation.Graph, from, to relation.VertexID) {}

func (l planListener) RemovedEdge(g *relation.Graph, from, to relation.VertexID) {
	l.p.invalidateTerminalFlags(from, to)
	l.p.sink.Log("relation_removed", g.Kind.Name, from, to)
}

// invalidateTerminalFlags invalidates the cached TerminalFlag of every
// bound event of any task that owns one of the changed edge's endpoints,
// per spec.md §4.4: a bound event's terminal flag depends on its whole
// downstream Signal/Forwarding closure, not just on whether the event
// itself is a direct endpoint, so an edge added or removed anywhere in a
// task's chain (e.g. a later event forwarding to "stop") can stale every
// other bound event's cached flag, not only the two touched here.
func (p *Plan) invalidateTerminalFlags(from, to relation.VertexID) {
	for _, t := range p.tasks {
		owned := false
		for _, teg := range t.Events() {
			if teg.ID() == from || teg.ID() == to {
				owned = true
				break
			}
		}
		if !owned {
			continue
		}
		for _, teg := range t.Events() {
			teg.InvalidateTerminalFlag()
		}
	}
}
