// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package relation

import (
	"errors"
	"testing"

	"github.com/rock-core/roby-go/exception"
)

func dagKind(name string) *Kind {
	return NewKind(name, true, true, false, false, true)
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	err := g.AddEdge("a", "a", nil)
	if err == nil {
		t.Fatalf("expected an error for a self-loop")
	}
	var robyErr *exception.RobyError
	if !errors.As(err, &robyErr) || robyErr.Kind != exception.EdgeInfoConflict {
		t.Fatalf("expected EdgeInfoConflict, got %v", err)
	}
}

func TestAddEdgeIdempotent(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	if err := g.AddEdge("a", "b", "info"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddEdge("a", "b", "info"); err != nil {
		t.Fatalf("re-adding an identical edge should be a no-op, got %v", err)
	}
	if len(g.ChildrenOf("a")) != 1 {
		t.Fatalf("expected exactly one child of a, got %v", g.ChildrenOf("a"))
	}
}

func TestAddEdgeConflictingInfoOnNonInfoKind(t *testing.T) {
	kind := NewKind("Hierarchy", true, true, false, false, false)
	g := New(kind)
	if err := g.AddEdge("a", "b", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := g.AddEdge("a", "b", "y")
	var robyErr *exception.RobyError
	if !errors.As(err, &robyErr) || robyErr.Kind != exception.EdgeInfoConflict {
		t.Fatalf("expected EdgeInfoConflict for differing info on a non-info kind, got %v", err)
	}
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g := New(dagKind("Precedence"))
	if err := g.AddEdge("a", "b", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddEdge("b", "c", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := g.AddEdge("c", "a", nil)
	var robyErr *exception.RobyError
	if !errors.As(err, &robyErr) || robyErr.Kind != exception.CycleFoundError {
		t.Fatalf("expected CycleFoundError, got %v", err)
	}
}

func TestAddEdgeAllowsCycleOnNonDAGKind(t *testing.T) {
	kind := NewKind("Signal", false, true, false, false, true)
	g := New(kind)
	if err := g.AddEdge("a", "b", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddEdge("b", "a", nil); err != nil {
		t.Fatalf("non-DAG kind should allow cycles, got %v", err)
	}
}

type vetoListener struct{ denyFrom VertexID }

func (v vetoListener) AddingEdge(g *Graph, from, to VertexID, info EdgeInfo) error {
	if from == v.denyFrom {
		return exception.New(exception.OwnershipError, "vetoed")
	}
	return nil
}
func (vetoListener) AddedEdge(g *Graph, from, to VertexID, info EdgeInfo) {}
func (vetoListener) RemovingEdge(g *Graph, from, to VertexID)            {}
func (vetoListener) RemovedEdge(g *Graph, from, to VertexID)             {}

func TestAddEdgeListenerVeto(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	g.SetListener(vetoListener{denyFrom: "blocked"})
	err := g.AddEdge("blocked", "b", nil)
	if err == nil {
		t.Fatalf("expected the listener veto to propagate as an error")
	}
	if g.HasEdge("blocked", "b") {
		t.Fatalf("vetoed edge should not have been inserted")
	}
}

func TestAddEdgeCascadesToSuperset(t *testing.T) {
	sub := NewKind("Signal", false, true, false, false, true)
	super := NewKind("CausalLink", false, true, false, false, true)
	sub.DeclareSubsetOf(super)

	subGraph := New(sub)
	superGraph := New(super)
	RegisterFamily(subGraph, superGraph)

	if err := subGraph.AddEdge("a", "b", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !superGraph.HasEdge("a", "b") {
		t.Fatalf("expected the edge to cascade to the superset graph")
	}
}

func TestRemoveEdgeCascadesToSuperset(t *testing.T) {
	sub := NewKind("Signal", false, true, false, false, true)
	super := NewKind("CausalLink", false, true, false, false, true)
	sub.DeclareSubsetOf(super)

	subGraph := New(sub)
	superGraph := New(super)
	RegisterFamily(subGraph, superGraph)

	_ = subGraph.AddEdge("a", "b", nil)
	subGraph.RemoveEdge("a", "b")
	if superGraph.HasEdge("a", "b") {
		t.Fatalf("expected the removal to cascade to the superset graph")
	}
}

func TestUpdateInfoRejectedWhenUnsupported(t *testing.T) {
	kind := NewKind("Hierarchy", true, true, false, false, false)
	g := New(kind)
	_ = g.AddEdge("a", "b", nil)
	if err := g.UpdateInfo("a", "b", "new"); err == nil {
		t.Fatalf("expected UpdateInfo to fail on a kind with SupportsInfo=false")
	}
}

func TestUpdateInfoSucceeds(t *testing.T) {
	g := New(dagKind("Signal"))
	_ = g.AddEdge("a", "b", "old")
	if err := g.UpdateInfo("a", "b", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, _ := g.EdgeInfoOf("a", "b")
	if info != "new" {
		t.Fatalf("EdgeInfoOf = %v, want new", info)
	}
}

func TestReplaceVertexMovesEdgesByDefault(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("parent", "old", nil)
	_ = g.AddEdge("old", "child", nil)

	g.ReplaceVertex("old", "new")

	if g.HasVertex("old") {
		t.Fatalf("expected 'old' to have no remaining edges after a moving replace")
	}
	if !g.HasEdge("parent", "new") || !g.HasEdge("new", "child") {
		t.Fatalf("expected edges to have moved onto the replacement")
	}
}

func TestReplaceVertexCopiesWhenConfigured(t *testing.T) {
	kind := NewKind("Hierarchy", true, true, true, false, true)
	g := New(kind)
	_ = g.AddEdge("parent", "old", nil)

	g.ReplaceVertex("old", "new")

	if !g.HasEdge("parent", "old") {
		t.Fatalf("expected copy-on-replace to preserve the original's edges")
	}
	if !g.HasEdge("parent", "new") {
		t.Fatalf("expected copy-on-replace to also create the edge on the replacement")
	}
}

func TestRemoveVertex(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("a", "b", nil)
	_ = g.AddEdge("b", "c", nil)
	g.RemoveVertex("b")
	if g.HasVertex("b") {
		t.Fatalf("expected b to be gone")
	}
	if g.HasEdge("a", "b") || g.HasEdge("b", "c") {
		t.Fatalf("expected all of b's edges to be gone")
	}
}
