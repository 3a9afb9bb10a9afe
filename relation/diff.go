// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package relation

// EdgeDelta describes one edge that differs between two graphs being
// compared by Difference.
type EdgeDelta struct {
	From, To VertexID
	// SelfInfo is the edge's info in the receiver graph, or nil if the
	// edge is only present in other.
	SelfInfo EdgeInfo
	// OtherInfo is the edge's info in other (after mapping), or nil if
	// the edge is only present in the receiver.
	OtherInfo EdgeInfo
	// InSelfOnly is true if the edge exists in the receiver but not in
	// other; false means it exists in other but not the receiver, or
	// exists in both with differing info.
	InSelfOnly bool
	// InOtherOnly is true if the edge exists in other but not the
	// receiver.
	InOtherOnly bool
}

// Difference compares g against other, an edge at a time, after mapping
// other's vertices through mapping (from other's VertexID to g's). A
// vertex of other with no entry in mapping is compared against itself
// (useful when other == g: comparing a graph against itself after a
// hypothetical relabeling). It reports every edge that's missing on one
// side or whose info differs, skipping edges that are identical on both
// sides after mapping.
//
// plan.Transaction.Commit does not use it: a transaction holds no graph
// of its own, so there is nothing to diff at commit time.
func (g *Graph) Difference(other *Graph, mapping map[VertexID]VertexID) []EdgeDelta {
	mapped := func(v VertexID) VertexID {
		if m, ok := mapping[v]; ok {
			return m
		}
		return v
	}

	var deltas []EdgeDelta
	seen := make(map[[2]VertexID]bool)

	for from, tos := range other.out {
		mFrom := mapped(from)
		for to, info := range tos {
			mTo := mapped(to)
			key := [2]VertexID{mFrom, mTo}
			seen[key] = true
			selfInfo, inSelf := g.EdgeInfoOf(mFrom, mTo)
			if inSelf && infoEqual(selfInfo, info) {
				continue
			}
			deltas = append(deltas, EdgeDelta{
				From: mFrom, To: mTo,
				SelfInfo: selfInfo, OtherInfo: info,
				InOtherOnly: !inSelf,
			})
		}
	}

	for from, tos := range g.out {
		for to, info := range tos {
			key := [2]VertexID{from, to}
			if seen[key] {
				continue
			}
			deltas = append(deltas, EdgeDelta{
				From: from, To: to,
				SelfInfo: info,
				InSelfOnly: true,
			})
		}
	}

	return deltas
}
