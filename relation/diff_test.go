// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package relation

import "testing"

func TestDifferenceDetectsAddedAndRemoved(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("a", "b", nil)

	other := New(dagKind("Hierarchy"))
	_ = other.AddEdge("a", "c", nil)

	deltas := g.Difference(other, nil)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d: %+v", len(deltas), deltas)
	}

	var sawSelfOnly, sawOtherOnly bool
	for _, d := range deltas {
		switch {
		case d.InSelfOnly && d.From == "a" && d.To == "b":
			sawSelfOnly = true
		case d.InOtherOnly && d.From == "a" && d.To == "c":
			sawOtherOnly = true
		}
	}
	if !sawSelfOnly || !sawOtherOnly {
		t.Fatalf("deltas missing expected entries: %+v", deltas)
	}
}

func TestDifferenceSkipsIdenticalEdges(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("a", "b", "info")
	other := New(dagKind("Hierarchy"))
	_ = other.AddEdge("a", "b", "info")

	deltas := g.Difference(other, nil)
	if len(deltas) != 0 {
		t.Fatalf("expected no deltas for identical graphs, got %+v", deltas)
	}
}

func TestDifferenceAppliesMapping(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("a", "b", nil)

	other := New(dagKind("Hierarchy"))
	_ = other.AddEdge("proxy-a", "proxy-b", nil)

	mapping := map[VertexID]VertexID{"proxy-a": "a", "proxy-b": "b"}
	deltas := g.Difference(other, mapping)
	if len(deltas) != 0 {
		t.Fatalf("expected mapping to reconcile proxy ids, got %+v", deltas)
	}
}

func TestDifferenceDetectsInfoChange(t *testing.T) {
	g := New(dagKind("Signal"))
	_ = g.AddEdge("a", "b", "old")
	other := New(dagKind("Signal"))
	_ = other.AddEdge("a", "b", "new")

	deltas := g.Difference(other, nil)
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta for differing info, got %+v", deltas)
	}
	if deltas[0].SelfInfo != "old" || deltas[0].OtherInfo != "new" {
		t.Fatalf("unexpected delta contents: %+v", deltas[0])
	}
}
