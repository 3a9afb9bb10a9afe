// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"fmt"

	"github.com/xlab/treeprint"
	"github.com/zclconf/go-cty-debug/ctydebug"

	"github.com/rock-core/roby-go/task"
)

// DebugTree renders the Plan's Hierarchy relation as a forest rooted at
// its missions and permanent tasks, annotating each node with its state
// and mission/permanent/quarantined flags (spec.md §6 "debugging
// interface"). Tasks unreachable from any root are appended as a
// trailing "(orphaned)" branch so GC-eligible structure is still
// visible.
func (p *Plan) DebugTree() string {
	root := treeprint.New()
	visited := make(map[task.ID]bool)

	var roots []task.ID
	for id := range p.missions {
		roots = append(roots, id)
	}
	for id := range p.permanent {
		if !p.missions[id] {
			roots = append(roots, id)
		}
	}

	for _, id := range roots {
		if visited[id] {
			continue
		}
		branch := root.AddBranch(p.nodeLabel(id))
		p.renderChildren(branch, id, visited)
	}

	var orphans []task.ID
	for id := range p.tasks {
		if !visited[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		orphanBranch := root.AddBranch("(orphaned)")
		for _, id := range orphans {
			if visited[id] {
				continue
			}
			branch := orphanBranch.AddBranch(p.nodeLabel(id))
			p.renderChildren(branch, id, visited)
		}
	}

	return root.String()
}

func (p *Plan) renderChildren(parent treeprint.Tree, id task.ID, visited map[task.ID]bool) {
	visited[id] = true
	for _, child := range p.Hierarchy.ChildrenOf(id) {
		if visited[child] {
			parent.AddNode(fmt.Sprintf("%s (already shown)", p.nodeLabel(child)))
			continue
		}
		branch := parent.AddBranch(p.nodeLabel(child))
		p.renderChildren(branch, child, visited)
	}
}

func (p *Plan) nodeLabel(id task.ID) string {
	t, ok := p.tasks[id]
	if !ok {
		return string(id)
	}
	label := fmt.Sprintf("%s [%s]", id, t.State())
	if p.missions[id] {
		label += " mission"
	}
	if p.permanent[id] {
		label += " permanent"
	}
	if t.Quarantined() {
		label += " quarantined"
	}
	for _, key := range t.Arguments.Keys() {
		v, ok := t.Arguments.Get(key)
		if !ok || v.IsNull() || !v.IsWhollyKnown() {
			continue
		}
		label += fmt.Sprintf(" %s=%s", key, ctydebug.ValueString(v))
	}
	return label
}
