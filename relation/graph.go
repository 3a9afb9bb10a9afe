// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package relation

import (
	"fmt"

	"github.com/rock-core/roby-go/exception"
)

// Edge is one entry of a Graph: a directed link from a parent to a child
// vertex, carrying a Kind-specific payload.
type Edge struct {
	From VertexID
	To   VertexID
	Info EdgeInfo
}

// Listener lets an owner (typically plan.Plan) observe and veto
// structural changes to a Graph, mirroring the add_edge/adding_edge/
// removed_edge hooks of spec.md §4.1.
type Listener interface {
	// AddingEdge is called before an edge is inserted. Returning an error
	// vetoes the insertion; the error is surfaced to the caller of
	// AddEdge unwrapped.
	AddingEdge(g *Graph, from, to VertexID, info EdgeInfo) error
	// AddedEdge is called after an edge has been inserted, including into
	// every superset graph it cascaded to.
	AddedEdge(g *Graph, from, to VertexID, info EdgeInfo)
	// RemovingEdge is called before an edge is removed.
	RemovingEdge(g *Graph, from, to VertexID)
	// RemovedEdge is called after an edge (and its subset cascade) has
	// been removed.
	RemovedEdge(g *Graph, from, to VertexID)
}

// Graph is one relation's adjacency: the substrate every Hierarchy,
// Signal, Forwarding, Precedence and CausalLink relation in a plan is
// built from (spec.md §4.1). The zero value is not usable; use [New].
type Graph struct {
	Kind *Kind

	out map[VertexID]map[VertexID]EdgeInfo
	in  map[VertexID]map[VertexID]EdgeInfo

	listener Listener
	family   *supersetRegistry
}

// New returns an empty Graph of the given kind.
func New(kind *Kind) *Graph {
	return &Graph{
		Kind: kind,
		out:  make(map[VertexID]map[VertexID]EdgeInfo),
		in:   make(map[VertexID]map[VertexID]EdgeInfo),
	}
}

// SetListener installs (or clears, with nil) the structural-change
// listener.
func (g *Graph) SetListener(l Listener) { g.listener = l }

// HasVertex reports whether v has any edge (incoming or outgoing) in g.
func (g *Graph) HasVertex(v VertexID) bool {
	if _, ok := g.out[v]; ok {
		return true
	}
	_, ok := g.in[v]
	return ok
}

// HasEdge reports whether there is a direct from->to edge.
func (g *Graph) HasEdge(from, to VertexID) bool {
	m, ok := g.out[from]
	if !ok {
		return false
	}
	_, ok = m[to]
	return ok
}

// EdgeInfoOf returns the payload of the from->to edge, if it exists.
func (g *Graph) EdgeInfoOf(from, to VertexID) (EdgeInfo, bool) {
	m, ok := g.out[from]
	if !ok {
		return nil, false
	}
	info, ok := m[to]
	return info, ok
}

// ChildrenOf returns the direct successors of v, in no particular order.
func (g *Graph) ChildrenOf(v VertexID) []VertexID {
	m := g.out[v]
	out := make([]VertexID, 0, len(m))
	for to := range m {
		out = append(out, to)
	}
	return out
}

// ParentsOf returns the direct predecessors of v, in no particular order.
func (g *Graph) ParentsOf(v VertexID) []VertexID {
	m := g.in[v]
	out := make([]VertexID, 0, len(m))
	for from := range m {
		out = append(out, from)
	}
	return out
}

// Vertices returns every vertex that has at least one edge in g.
func (g *Graph) Vertices() []VertexID {
	seen := make(map[VertexID]struct{})
	for v := range g.out {
		seen[v] = struct{}{}
	}
	for v := range g.in {
		seen[v] = struct{}{}
	}
	out := make([]VertexID, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}

// AddEdge inserts a from->to edge with the given info, cascading to every
// superset of g.Kind. It implements spec.md §4.1's add_edge invariants:
//
//   - self-loops are always rejected (EdgeInfoConflict), even on a
//     non-DAG relation.
//   - re-adding an identical edge (same info) is a no-op: idempotent add
//     is the law spec.md §8 names.
//   - adding an edge with different info over an existing edge is
//     rejected as EdgeInfoConflict unless the kind SupportsInfo, in which
//     case it's treated as an UpdateInfo.
//   - on a DAG kind, an edge that would close a cycle is rejected with
//     CycleFoundError.
//   - a Listener veto (AddingEdge returning an error) aborts the whole
//     cascade before any graph (including supersets) is mutated.
func (g *Graph) AddEdge(from, to VertexID, info EdgeInfo) error {
	if from == to {
		return exception.New(exception.EdgeInfoConflict, "relation %s: self-loop on %s", g.Kind.Name, from)
	}
	if err := g.checkAddEdge(from, to, info, make(map[*Graph]bool)); err != nil {
		return err
	}
	g.addEdge(from, to, info, make(map[*Graph]bool))
	return nil
}

// checkAddEdge walks the same cascade as addEdge but only validates,
// firing no hooks and mutating nothing, so a veto anywhere in the
// superset chain leaves every graph untouched.
func (g *Graph) checkAddEdge(from, to VertexID, info EdgeInfo, visited map[*Graph]bool) error {
	if visited[g] {
		return nil
	}
	visited[g] = true

	if existing, ok := g.EdgeInfoOf(from, to); ok {
		if infoEqual(existing, info) {
			return nil
		}
		if !g.Kind.SupportsInfo {
			return exception.New(exception.EdgeInfoConflict,
				"relation %s: conflicting info on edge %s -> %s", g.Kind.Name, from, to)
		}
	} else if g.Kind.DAG && g.reaches(to, from) {
		return exception.New(exception.CycleFoundError,
			"relation %s: edge %s -> %s would close a cycle", g.Kind.Name, from, to)
	}

	if g.listener != nil {
		if err := g.listener.AddingEdge(g, from, to, info); err != nil {
			return err
		}
	}
	for _, sup := range g.Kind.supersets {
		if err := supersetGraph(sup, g).checkAddEdge(from, to, info, visited); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) addEdge(from, to VertexID, info EdgeInfo, visited map[*Graph]bool) {
	if visited[g] {
		return
	}
	visited[g] = true

	if existing, ok := g.EdgeInfoOf(from, to); ok && infoEqual(existing, info) {
		return
	}
	if g.out[from] == nil {
		g.out[from] = make(map[VertexID]EdgeInfo)
	}
	if g.in[to] == nil {
		g.in[to] = make(map[VertexID]EdgeInfo)
	}
	g.out[from][to] = info
	g.in[to][from] = info

	if g.listener != nil {
		g.listener.AddedEdge(g, from, to, info)
	}
	for _, sup := range g.Kind.supersets {
		supersetGraph(sup, g).addEdge(from, to, info, visited)
	}
}

// RemoveEdge deletes the from->to edge from g and cascades to every
// superset of g.Kind, mirroring spec.md §4.1's remove_edge ("also removes
// in all supersets") and AddEdge's own cascade direction: an edge only
// ever enters a superset graph because some subset put it there, so
// removing it at the subset must remove the superset's copy too.
func (g *Graph) RemoveEdge(from, to VertexID) {
	g.removeEdge(from, to, make(map[*Graph]bool))
}

func (g *Graph) removeEdge(from, to VertexID, visited map[*Graph]bool) {
	if visited[g] {
		return
	}
	visited[g] = true

	if !g.HasEdge(from, to) {
		return
	}
	if g.listener != nil {
		g.listener.RemovingEdge(g, from, to)
	}
	delete(g.out[from], to)
	if len(g.out[from]) == 0 {
		delete(g.out, from)
	}
	delete(g.in[to], from)
	if len(g.in[to]) == 0 {
		delete(g.in, to)
	}
	if g.listener != nil {
		g.listener.RemovedEdge(g, from, to)
	}
	for _, sup := range g.Kind.supersets {
		supersetGraph(sup, g).removeEdge(from, to, visited)
	}
}

// UpdateInfo replaces the payload of an existing from->to edge in g only
// (no cascade to supersets/subsets), failing if the kind doesn't support
// mutable edge info or the edge doesn't exist.
func (g *Graph) UpdateInfo(from, to VertexID, info EdgeInfo) error {
	if !g.Kind.SupportsInfo {
		return exception.New(exception.EdgeInfoConflict, "relation %s does not support info updates", g.Kind.Name)
	}
	if !g.HasEdge(from, to) {
		return exception.New(exception.EdgeInfoConflict, "relation %s: no edge %s -> %s to update", g.Kind.Name, from, to)
	}
	g.out[from][to] = info
	g.in[to][from] = info
	return nil
}

// RemoveVertex removes every edge touching v.
func (g *Graph) RemoveVertex(v VertexID) {
	for _, to := range g.ChildrenOf(v) {
		g.RemoveEdge(v, to)
	}
	for _, from := range g.ParentsOf(v) {
		g.RemoveEdge(from, v)
	}
}

// ReplaceVertex redirects every edge touching old onto replacement. If
// g.Kind.CopyOnReplace is true, old keeps its edges too (they're copied,
// not moved); otherwise old ends up with none (moved), per spec.md §4.5's
// replace_by semantics (and the tie-break rule when both old and
// replacement already have an edge to the same neighbor: replacement's
// own edge wins, old's is dropped silently rather than conflicting).
func (g *Graph) ReplaceVertex(old, replacement VertexID) {
	for to, info := range g.out[old] {
		if to == replacement {
			continue
		}
		if _, already := g.EdgeInfoOf(replacement, to); !already {
			_ = g.AddEdge(replacement, to, info)
		}
	}
	for from, info := range g.in[old] {
		if from == replacement {
			continue
		}
		if _, already := g.EdgeInfoOf(from, replacement); !already {
			_ = g.AddEdge(from, replacement, info)
		}
	}
	if !g.Kind.CopyOnReplace {
		g.RemoveVertex(old)
	}
}

// reaches reports whether to is reachable from 'from' by following
// outgoing edges, used by AddEdge's DAG cycle check (is `to` already an
// ancestor of `from`, i.e. would from->to close a loop).
func (g *Graph) reaches(from, to VertexID) bool {
	if from == to {
		return true
	}
	visited := map[VertexID]bool{from: true}
	stack := []VertexID{from}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.out[v] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

func infoEqual(a, b EdgeInfo) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}

// supersetRegistry maps a *Kind to the live *Graph instance for it within
// the same plan, so the cascade in AddEdge/RemoveEdge can reach the
// sibling graph. A real plan has exactly one Graph per Kind; Components
// using relation.Graph directly (e.g. in tests) register kinds with no
// supersets and never hit this path.
type supersetRegistry struct {
	byKind map[*Kind]*Graph
}

// supersetGraph resolves the live Graph for a superset Kind given the
// subset graph g belongs to. Plan wires this up via RegisterFamily; until
// then, a Kind with declared supersets but no registered family is a
// programming error and panics rather than silently dropping the
// cascade.
func supersetGraph(kind *Kind, from *Graph) *Graph {
	if from.family == nil {
		panic(fmt.Sprintf("relation: %s declares a superset %s but no family was registered", from.Kind.Name, kind.Name))
	}
	g, ok := from.family.byKind[kind]
	if !ok {
		panic(fmt.Sprintf("relation: superset %s not found in registered family", kind.Name))
	}
	return g
}

// RegisterFamily links a set of Graphs so that Kind.DeclareSubsetOf
// cascades between them work. Call it once after constructing every
// Graph in a plan, passing all of them together (including ones with no
// subset relationships, which is harmless).
func RegisterFamily(graphs ...*Graph) {
	reg := &supersetRegistry{byKind: make(map[*Kind]*Graph, len(graphs))}
	for _, g := range graphs {
		reg.byKind[g.Kind] = g
	}
	for _, g := range graphs {
		g.family = reg
	}
}
