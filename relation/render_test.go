// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package relation

import (
	"strings"
	"testing"
)

func TestWriteDOTDeterministicOrder(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("b", "c", nil)
	_ = g.AddEdge("a", "b", nil)

	var buf strings.Builder
	if err := WriteDOT(RenderConfig{}, &buf, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "digraph {\n") || !strings.HasSuffix(out, "}\n") {
		t.Fatalf("unexpected envelope: %q", out)
	}
	aIdx := strings.Index(out, "a -> b")
	bIdx := strings.Index(out, "b -> c")
	if aIdx == -1 || bIdx == -1 || aIdx > bIdx {
		t.Fatalf("expected edges in lexical order, got:\n%s", out)
	}
}

func TestWriteDOTQuotesSpecialIDs(t *testing.T) {
	g := New(dagKind("Hierarchy"))
	_ = g.AddEdge("needs quoting", "b", nil)

	var buf strings.Builder
	if err := WriteDOT(RenderConfig{}, &buf, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"needs quoting"`) {
		t.Fatalf("expected the id to be quoted, got:\n%s", buf.String())
	}
}
