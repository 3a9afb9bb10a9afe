// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package relation

// EachBFS walks g breadth-first starting at roots, following outgoing
// edges, calling visit once per reached vertex (including the roots
// themselves). Traversal stops early if visit returns false.
func (g *Graph) EachBFS(roots []VertexID, visit func(VertexID) bool) {
	visited := make(map[VertexID]bool, len(roots))
	queue := append([]VertexID{}, roots...)
	for _, r := range roots {
		visited[r] = true
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if !visit(v) {
			return
		}
		for next := range g.out[v] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
}

// GeneratedSubgraph returns every vertex reachable from roots by
// following outgoing edges, roots included. This is the "downstream"
// direction: for a Hierarchy graph rooted at a task, it's every
// descendant (spec.md §4.1, generated_subgraph).
func (g *Graph) GeneratedSubgraph(roots ...VertexID) []VertexID {
	var out []VertexID
	g.EachBFS(roots, func(v VertexID) bool {
		out = append(out, v)
		return true
	})
	return out
}

// ReverseGeneratedSubgraph returns every vertex that can reach one of
// targets by following outgoing edges, targets included: the "upstream"
// direction. The engine's GC kill set does not use it; that set comes
// from the tasks named in each unhandled exception's trace.
func (g *Graph) ReverseGeneratedSubgraph(targets ...VertexID) []VertexID {
	visited := make(map[VertexID]bool, len(targets))
	queue := append([]VertexID{}, targets...)
	for _, t := range targets {
		visited[t] = true
	}
	var out []VertexID
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		out = append(out, v)
		for prev := range g.in[v] {
			if !visited[prev] {
				visited[prev] = true
				queue = append(queue, prev)
			}
		}
	}
	return out
}

// Neighborhood returns every vertex within depth undirected hops of v
// (treating g as if edges had no direction), v included. depth <= 0
// returns just v. Used for debug-dump scoping ("show me what's around
// this task"), not by any invariant-bearing algorithm.
func (g *Graph) Neighborhood(v VertexID, depth int) []VertexID {
	visited := map[VertexID]bool{v: true}
	frontier := []VertexID{v}
	out := []VertexID{v}
	for d := 0; d < depth; d++ {
		var next []VertexID
		for _, u := range frontier {
			for w := range g.out[u] {
				if !visited[w] {
					visited[w] = true
					next = append(next, w)
					out = append(out, w)
				}
			}
			for w := range g.in[u] {
				if !visited[w] {
					visited[w] = true
					next = append(next, w)
					out = append(out, w)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return out
}

// Components partitions g's vertices into weakly-connected components
// (undirected reachability), for example to group unrelated mission
// trees. The engine and the plan's debug rendering do not call it.
func (g *Graph) Components() [][]VertexID {
	visited := make(map[VertexID]bool)
	var comps [][]VertexID
	for _, v := range g.Vertices() {
		if visited[v] {
			continue
		}
		comp := g.Neighborhood(v, len(g.out)+len(g.in)+1)
		for _, u := range comp {
			visited[u] = true
		}
		comps = append(comps, comp)
	}
	return comps
}

// Reaches reports whether any of roots can reach `to` by following
// outgoing edges across the union of the given graphs simultaneously (a
// hop can use any of the graphs at each step). TaskEventGenerator uses
// this across the Signal and Forwarding relations at once to compute its
// cached terminal flag: whether emitting the event leads to the task's
// success, failed or stop event.
func Reaches(roots []VertexID, to VertexID, graphs ...*Graph) bool {
	visited := make(map[VertexID]bool, len(roots))
	queue := append([]VertexID{}, roots...)
	for _, r := range roots {
		if r == to {
			return true
		}
		visited[r] = true
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, g := range graphs {
			for next := range g.out[v] {
				if next == to {
					return true
				}
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	return false
}
