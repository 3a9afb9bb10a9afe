// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package task

import "github.com/rock-core/roby-go/relation"

// ReplaceBy transfers every incoming and outgoing task-relation edge
// touching t onto other, subject to each relation's copy_on_replace flag,
// and does the same for each bound event pair sharing a symbol
// (spec.md §4.5 "replace_by"). Handlers flagged ReplaceCopy are
// duplicated onto the corresponding replacement generator.
func (t *Task) ReplaceBy(other *Task) {
	t.hierarchy.ReplaceVertex(t.id, other.id)
	t.signal.ReplaceVertex(t.id, other.id)
	t.forwarding.ReplaceVertex(t.id, other.id)

	for symbol, teg := range t.boundEvents {
		otherTeg, ok := other.boundEvents[symbol]
		if !ok {
			continue
		}
		t.signal.ReplaceVertex(teg.ID(), otherTeg.ID())
		t.forwarding.ReplaceVertex(teg.ID(), otherTeg.ID())
		teg.CopyReplaceHandlersTo(otherTeg.Generator)
		teg.InvalidateTerminalFlag()
		otherTeg.InvalidateTerminalFlag()
	}

	other.Arguments = t.Arguments.DeepCopy()
}

// ReplaceSubplanBy restricts the edge transfer to edges crossing the
// boundary of t's useful subtree: edges entirely within subtreeMembers
// stay on the original, per spec.md §4.5 "replace_subplan_by". Only
// boundary edges (at least one endpoint outside the subtree) are moved
// onto other.
func (t *Task) ReplaceSubplanBy(other *Task, subtreeMembers map[ID]bool) {
	for _, g := range []*relation.Graph{t.hierarchy, t.signal, t.forwarding} {
		replaceBoundaryEdges(g, t.id, other.id, subtreeMembers)
	}
	other.Arguments = t.Arguments.DeepCopy()
}

func replaceBoundaryEdges(g *relation.Graph, from, to relation.VertexID, subtree map[relation.VertexID]bool) {
	for _, child := range g.ChildrenOf(from) {
		if subtree[child] {
			continue // entirely within the subtree: leave it on the original
		}
		info, _ := g.EdgeInfoOf(from, child)
		_ = g.AddEdge(to, child, info)
		g.RemoveEdge(from, child)
	}
	for _, parent := range g.ParentsOf(from) {
		if subtree[parent] {
			continue
		}
		info, _ := g.EdgeInfoOf(parent, from)
		_ = g.AddEdge(parent, to, info)
		g.RemoveEdge(parent, from)
	}
}
