// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/relation"
	"github.com/rock-core/roby-go/task"
)

// GarbageCollect finalizes every task that isn't useful, per spec.md §4.2
// "garbage_collect(force_kill_set = ∅)": a task is useful if it is a
// mission, permanent, currently being started or stopped by execution
// (Starting/Finishing), reachable from a mission or permanent via
// Hierarchy, or in the force-GC set and not finalizable. Unlike the
// previous revision, a running task with no mission/permanent ancestry is
// no longer an unconditional root: an orphaned running task is now
// collectible like anything else, which is the behavior spec.md actually
// describes ("running and reachable from a mission or permanent via
// Hierarchy"). Non-useful tasks are finalized leaf-first: every child is
// finalized before the parent that depends on it. Quarantined tasks are
// never finalized. A task in forceGC, or named
// in forceKillSet for this call only, is excluded from the mission/
// permanent root set even if it would otherwise be kept, unless it's
// still running (a running task can never be finalized directly; it must
// stop first). Returns the ids that were finalized this pass.
func (p *Plan) GarbageCollect(forceKillSet ...task.ID) ([]task.ID, error) {
	forced := make(map[task.ID]bool, len(p.forceGC)+len(forceKillSet))
	for id := range p.forceGC {
		forced[id] = true
	}
	for _, id := range forceKillSet {
		forced[id] = true
	}

	roots := make([]relation.VertexID, 0, len(p.missions)+len(p.permanent))
	useful := make(map[relation.VertexID]bool)
	for id := range p.missions {
		if !forced[id] {
			roots = append(roots, id)
			useful[id] = true
		}
	}
	for id := range p.permanent {
		if !forced[id] {
			roots = append(roots, id)
			useful[id] = true
		}
	}

	for _, id := range p.Hierarchy.GeneratedSubgraph(roots...) {
		useful[id] = true
	}

	for id, t := range p.tasks {
		if t.State() == task.Starting || t.State() == task.Finishing {
			useful[id] = true // currently being started/stopped by execution
		}
	}

	var candidates []task.ID
	for id, t := range p.tasks {
		if useful[id] {
			continue
		}
		if t.Running() && !t.Finished() {
			continue // never finalize a running task directly
		}
		if t.Quarantined() {
			continue // quarantined tasks are excluded from GC
		}
		candidates = append(candidates, id)
	}

	order, err := leafFirstOrder(p.Hierarchy, candidates)
	if err != nil {
		return nil, err
	}

	var finalized []task.ID
	for _, id := range order {
		t, ok := p.tasks[id]
		if !ok {
			continue
		}
		p.finalizeTask(t)
		finalized = append(finalized, id)
	}
	return finalized, nil
}

// leafFirstOrder returns candidates ordered so that every Hierarchy child
// of a candidate is finalized before its parent, by repeatedly peeling off
// vertices that have no remaining Hierarchy child among the candidate set
// (a Kahn's-algorithm pass over the induced subgraph). Hierarchy is a DAG
// relation so this always terminates unless the Plan itself is corrupt.
func leafFirstOrder(hierarchy *relation.Graph, candidates []relation.VertexID) ([]relation.VertexID, error) {
	remaining := make(map[relation.VertexID]bool, len(candidates))
	for _, id := range candidates {
		remaining[id] = true
	}

	var order []relation.VertexID
	for len(remaining) > 0 {
		progressed := false
		for id := range remaining {
			hasCandidateChild := false
			for _, child := range hierarchy.ChildrenOf(id) {
				if remaining[child] {
					hasCandidateChild = true
					break
				}
			}
			if hasCandidateChild {
				continue
			}
			order = append(order, id)
			delete(remaining, id)
			progressed = true
		}
		if !progressed {
			return nil, exception.New(exception.CycleFoundError,
				"garbage collection found a Hierarchy cycle among %d candidate tasks", len(remaining))
		}
	}
	return order, nil
}
