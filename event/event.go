// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package event implements EventGenerator (spec.md §4.3): the emission/call
// contract of a single signal source, together with the Signal, Forwarding
// and Precedence relations generators are wired through. The propagation
// fixed point itself lives in package propagation; this package exposes the
// [Host] interface propagation implements so a Generator can validate and
// enqueue a call/emit without importing its caller.
package event

import (
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/relation"
)

// ID identifies one event generator, task-bound or free.
type ID = relation.VertexID

// Context is the payload carried by a call or emission. Roby's own context
// values are arbitrary language values; cty.Value gives this port the same
// dynamically-typed, introspectable payload without reflection, and is
// already wired in by task.Arguments for the same reason.
type Context = cty.Value

// Event is one past emission of a Generator: spec.md §3 "Emissions yield an
// Event record: generator reference, propagation id, context payload,
// timestamp, source-event references."
type Event struct {
	Generator     ID
	PropagationID int
	Context       Context
	Time          time.Time
	Sources       []*Event
}

// TaskSources returns the direct sources whose Generator belongs to a task
// (as opposed to a free event), per spec.md §4.6 "task_sources".
func (e *Event) TaskSources(isTaskBound func(ID) bool) []*Event {
	var out []*Event
	for _, s := range e.Sources {
		if isTaskBound(s.Generator) {
			out = append(out, s)
		}
	}
	return out
}

// AllTaskSources walks the full ancestor set (spec.md §4.6
// "all_task_sources"), depth-first, each source visited once.
func (e *Event) AllTaskSources(isTaskBound func(ID) bool) []*Event {
	seen := make(map[*Event]bool)
	var out []*Event
	var walk func(*Event)
	walk = func(ev *Event) {
		for _, s := range ev.Sources {
			if seen[s] {
				continue
			}
			seen[s] = true
			if isTaskBound(s.Generator) {
				out = append(out, s)
			}
			walk(s)
		}
	}
	walk(e)
	return out
}

// RootTaskSources returns the leaves of AllTaskSources: sources with no
// further task-bound ancestor of their own.
func (e *Event) RootTaskSources(isTaskBound func(ID) bool) []*Event {
	all := e.AllTaskSources(isTaskBound)
	var roots []*Event
	for _, ev := range all {
		if len(ev.AllTaskSources(isTaskBound)) == 0 {
			roots = append(roots, ev)
		}
	}
	return roots
}

// Kind distinguishes a Signal propagation record (invoke the target's
// command) from a Forwarding one (emit the target directly), per
// spec.md §4.6 step 5.
type Kind int

const (
	KindSignal Kind = iota
	KindForward
)

// TimeSpec is a Signal edge's optional delay, per spec.md §4.3 "signals":
// either a relative delay or an absolute deadline. The zero value fires
// immediately.
type TimeSpec struct {
	Delay time.Duration
	At    time.Time
}

// Resolve returns the absolute fire time given the current time.
func (t TimeSpec) Resolve(now time.Time) time.Time {
	if !t.At.IsZero() {
		return t.At
	}
	if t.Delay > 0 {
		return now.Add(t.Delay)
	}
	return now
}

// Record is one propagation contribution queued by a call/emit/signal/
// forward: "(kind, from, to, context, timespec)" in spec.md §4.6.
type Record struct {
	Kind    Kind
	From    *Event // nil for an externally-submitted call/emit
	To      ID
	Context Context
	When    TimeSpec
}

// Host is the capability a Generator needs from whatever is driving
// propagation (propagation.Engine in practice) to implement call/emit
// without this package depending on propagation or plan. Kept deliberately
// narrow: spec.md §4.3's call/emit validation path plus the gather-or-run
// decision.
type Host interface {
	// Now returns the current time (robyclock.Clock.Now in practice).
	Now() time.Time
	// OnEngineThread reports whether the caller is running on the
	// designated engine thread (spec.md §4.3, ThreadMismatch check).
	OnEngineThread() bool
	// InPropagation reports whether a propagation step is currently being
	// run (spec.md §4.6, "gathering phase").
	InPropagation() bool
	// Enqueue adds rec to the current (or a freshly opened) gather set.
	Enqueue(rec Record)
	// RunToFixedPoint drives propagation until the pending set is empty,
	// used when a call/emit opens a new propagation root outside of an
	// existing step.
	RunToFixedPoint() error
	// Executable reports whether id's owning plan is executable and the
	// object itself hasn't been finalized (spec.md §4.3 call/emit gate and
	// §4.5 "once executable? becomes false...").
	Executable(id ID) bool
}
