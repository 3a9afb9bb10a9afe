// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package relation implements the typed multigraph substrate every plan
// relation (Hierarchy, Signal, Forwarding, Precedence, CausalLink, ...) is
// built from (spec.md §4.1). A [Graph] is identified by a [Kind] carrying
// the flags named in spec.md §3 ("RelationGraph"): whether cycles are
// forbidden at insertion (dag), whether the graph survives
// clear_relations (strong), whether replace_vertex copies rather than
// moves edges (copy_on_replace), and whether the relation is visible to
// peers (distribute).
//
// Vertices are opaque [VertexID] values, never object references: per the
// design note in spec.md §9, relations are id-to-id, so that a systems
// rewrite of Roby's graph can be an arena of stable ids with no reference
// cycles in memory management, even though the logical relations they
// describe are cyclic by nature (a Task owns TaskEventGenerators that
// point back to it, Signal/Forwarding can form loops, and so on).
package relation

// VertexID is a stable identifier for a task or event, minted by the
// owning package (task.ID, event.ID) and opaque to this package.
type VertexID string

// EdgeInfo is the payload carried by an edge. Each Kind interprets it
// however suits that relation (a Signal edge carries a delay spec; a
// Hierarchy edge typically carries nil).
type EdgeInfo any

// Kind describes one relation type: a type tag plus the flags from
// spec.md §3.
type Kind struct {
	// Name identifies the relation for debugging and for error messages
	// (e.g. "Hierarchy", "Signal").
	Name string

	// DAG, when true, means the substrate refuses edges that would
	// create a cycle at insertion time (spec.md §4.1, add_edge).
	DAG bool

	// Strong, when true, means edges of this kind survive a
	// clear_relations-style bulk removal.
	Strong bool

	// CopyOnReplace, when true, means ReplaceVertex preserves edges on
	// the original vertex in addition to creating them on the
	// replacement, instead of moving them.
	CopyOnReplace bool

	// Distribute, when true, means this relation is visible to peers
	// (ownership/ distributed-plan concerns, tracked but not
	// reconciled by this core per spec.md §1 non-goals).
	Distribute bool

	// SupportsInfo, when false, means UpdateInfo always fails: this
	// relation's edges carry no meaningful payload to update (e.g.
	// Hierarchy, whose edges are plain boolean links).
	SupportsInfo bool

	supersets []*Kind
}

// NewKind registers a new relation kind with the given flags.
func NewKind(name string, dag, strong, copyOnReplace, distribute, supportsInfo bool) *Kind {
	return &Kind{
		Name:          name,
		DAG:           dag,
		Strong:        strong,
		CopyOnReplace: copyOnReplace,
		Distribute:    distribute,
		SupportsInfo:  supportsInfo,
	}
}

// DeclareSubsetOf records that k is a subset of superset: every edge
// added to or removed from a Graph of kind k is mirrored onto the Graph
// of kind superset too (spec.md §3, "Signal ⊆ CausalLink ⊆ Precedence").
// Must be called once at registration time, before any Graph of either
// kind is constructed.
func (k *Kind) DeclareSubsetOf(superset *Kind) {
	k.supersets = append(k.supersets, superset)
}
