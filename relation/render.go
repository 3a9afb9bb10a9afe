// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Graphviz DOT rendering for debug dumps (spec.md §6, "plan.to_dot /
// --render-dot"), adapted from the teacher's internal/dag/graphviz
// package: same attribute model and deterministic lexical-order writer,
// retargeted at relation.Graph's VertexID/EdgeInfo instead of dag.Graph's
// Hashable vertices.
package relation

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Attributes is a Graphviz attribute list, rendered as name=value pairs.
type Attributes = map[string]AttrValue

// AttrValue is one Graphviz attribute value.
type AttrValue interface {
	asAttributeValue() string
}

// AttrVal converts a plain string, int, or PrequotedAttr into an
// AttrValue for use in an Attributes map.
func AttrVal[T interface {
	string | int | PrequotedAttr
}](from T) AttrValue {
	switch from := any(from).(type) {
	case string:
		return stringAttr(from)
	case int:
		return stringAttr(strconv.Itoa(from))
	case PrequotedAttr:
		return from
	default:
		panic("unreachable")
	}
}

type stringAttr string

func (s stringAttr) asAttributeValue() string { return quoteForGraphviz(string(s)) }

// PrequotedAttr is inserted into the output verbatim, for callers that
// already have a valid Graphviz-syntax value in hand.
type PrequotedAttr string

func (s PrequotedAttr) asAttributeValue() string { return string(s) }

// NodeLabel renders a task/event's node label from its DebugRepr-style
// summary.
func NodeLabel(v VertexID, summary string) Attributes {
	return Attributes{"label": AttrVal(string(v) + "\n" + summary)}
}

// RenderConfig controls WriteDOT's output.
type RenderConfig struct {
	Attrs            Attributes
	DefaultNodeAttrs Attributes
	DefaultEdgeAttrs Attributes
	// NodeAttrs, if set, supplies per-vertex attributes (e.g. color by
	// task state).
	NodeAttrs func(VertexID) Attributes
}

// WriteDOT renders the union of graphs as a single Graphviz digraph,
// labeling each edge with the relation Kind.Name it came from so a
// rendered dump can show Hierarchy, Signal and Forwarding edges
// together. Vertices and edges are written in deterministic lexical
// order so output is stable across runs, matching the teacher's
// rationale for doing the same in its own writer ("for easier unit
// testing").
func WriteDOT(cfg RenderConfig, w io.Writer, graphs ...*Graph) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString("digraph {\n"); err != nil {
		return err
	}
	if err := writeGraphAttrs(bw, cfg.Attrs); err != nil {
		return err
	}
	if err := writeDefaultAttrs(bw, "node", cfg.DefaultNodeAttrs); err != nil {
		return err
	}
	if err := writeDefaultAttrs(bw, "edge", cfg.DefaultEdgeAttrs); err != nil {
		return err
	}

	vertexSet := make(map[VertexID]struct{})
	for _, g := range graphs {
		for _, v := range g.Vertices() {
			vertexSet[v] = struct{}{}
		}
	}
	vertices := slices.Collect(maps.Keys(vertexSet))
	slices.SortFunc(vertices, func(a, b VertexID) int { return cmp.Compare(a, b) })

	for _, v := range vertices {
		if _, err := bw.WriteString("  "); err != nil {
			return err
		}
		if _, err := bw.WriteString(quoteForGraphviz(string(v))); err != nil {
			return err
		}
		var attrs Attributes
		if cfg.NodeAttrs != nil {
			attrs = cfg.NodeAttrs(v)
		}
		if len(attrs) != 0 {
			if _, err := bw.WriteString(" ["); err != nil {
				return err
			}
			if err := writeAttrList(bw, attrs); err != nil {
				return err
			}
			if _, err := bw.WriteString("]"); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(";\n"); err != nil {
			return err
		}
	}

	type labeledEdge struct {
		from, to VertexID
		kind     string
	}
	var edges []labeledEdge
	for _, g := range graphs {
		for from, tos := range g.out {
			for to := range tos {
				edges = append(edges, labeledEdge{from, to, g.Kind.Name})
			}
		}
	}
	slices.SortFunc(edges, func(a, b labeledEdge) int {
		if c := cmp.Compare(a.from, b.from); c != 0 {
			return c
		}
		if c := cmp.Compare(a.to, b.to); c != 0 {
			return c
		}
		return cmp.Compare(a.kind, b.kind)
	})
	for _, e := range edges {
		if _, err := fmt.Fprintf(bw, "  %s -> %s [label=%s];\n",
			quoteForGraphviz(string(e.from)), quoteForGraphviz(string(e.to)), quoteForGraphviz(e.kind)); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func writeGraphAttrs(bw *bufio.Writer, attrs Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	names := slices.Collect(maps.Keys(attrs))
	slices.Sort(names)
	for _, name := range names {
		if _, err := bw.WriteString("  "); err != nil {
			return err
		}
		if err := writeAttr(bw, name, attrs[name]); err != nil {
			return err
		}
		if _, err := bw.WriteString(";\n"); err != nil {
			return err
		}
	}
	return nil
}

func writeDefaultAttrs(bw *bufio.Writer, what string, attrs Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(bw, "  %s [", what); err != nil {
		return err
	}
	if err := writeAttrList(bw, attrs); err != nil {
		return err
	}
	_, err := bw.WriteString("];\n")
	return err
}

func writeAttrList(bw *bufio.Writer, attrs Attributes) error {
	names := slices.Collect(maps.Keys(attrs))
	slices.Sort(names)
	for i, name := range names {
		if i != 0 {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		if err := writeAttr(bw, name, attrs[name]); err != nil {
			return err
		}
	}
	return nil
}

func writeAttr(bw *bufio.Writer, name string, val AttrValue) error {
	if _, err := bw.WriteString(quoteForGraphviz(name)); err != nil {
		return err
	}
	if err := bw.WriteByte('='); err != nil {
		return err
	}
	_, err := bw.WriteString(val.asAttributeValue())
	return err
}

var validUnquoteID = regexp.MustCompile(`^[a-zA-Z\200-\377_][a-zA-Z0-9\200-\377_]*$`)

func quoteForGraphviz(s string) string {
	if validUnquoteID.MatchString(s) && s != "node" && s != "edge" {
		return s
	}
	var buf strings.Builder
	buf.WriteByte('"')
	for _, c := range s {
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		default:
			buf.WriteRune(c)
		}
	}
	buf.WriteByte('"')
	return buf.String()
}
