// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/task"
)

// Matcher selects tasks out of a Plan by model, argument, and state
// predicates (spec.md §6 "external interfaces: task matching"). The zero
// value matches every task; each With* method narrows the selection and
// returns the receiver for chaining.
type Matcher struct {
	modelPredicate func(*task.Task) bool
	argPredicates  map[string]func(cty.Value) bool
	statePredicate func(task.State) bool
	onlyMissions   bool
	onlyPermanent  bool
}

// NewMatcher returns a Matcher that accepts any currently registered task
// (finalized tasks are never registered, so none can match regardless).
func NewMatcher() *Matcher {
	return &Matcher{argPredicates: make(map[string]func(cty.Value) bool)}
}

// WithModel restricts the match to tasks for which pred returns true,
// standing in for Roby's model/class matching since this port has no
// task-model registry of its own.
func (m *Matcher) WithModel(pred func(*task.Task) bool) *Matcher {
	m.modelPredicate = pred
	return m
}

// WithArg restricts the match to tasks whose argument key satisfies pred.
func (m *Matcher) WithArg(key string, pred func(value cty.Value) bool) *Matcher {
	m.argPredicates[key] = pred
	return m
}

// WithState restricts the match to tasks whose State satisfies pred.
func (m *Matcher) WithState(pred func(task.State) bool) *Matcher {
	m.statePredicate = pred
	return m
}

// Missions restricts the match to mission tasks; evaluated against the
// Plan passed to Match.
func (m *Matcher) Missions() *Matcher { m.onlyMissions = true; return m }

// Permanent restricts the match to permanent tasks.
func (m *Matcher) Permanent() *Matcher { m.onlyPermanent = true; return m }

// Match evaluates the Matcher against every task currently registered in
// p, returning those that satisfy every configured predicate.
func (m *Matcher) Match(p *Plan) []*task.Task {
	var out []*task.Task
	for id, t := range p.tasks {
		if m.onlyMissions && !p.IsMission(id) {
			continue
		}
		if m.onlyPermanent && !p.IsPermanent(id) {
			continue
		}
		if m.modelPredicate != nil && !m.modelPredicate(t) {
			continue
		}
		if m.statePredicate != nil && !m.statePredicate(t.State()) {
			continue
		}
		if !m.argsMatch(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *Matcher) argsMatch(t *task.Task) bool {
	for key, pred := range m.argPredicates {
		value, grounded := t.Arguments.Get(key)
		if !grounded {
			return false
		}
		if !pred(value) {
			return false
		}
	}
	return true
}
