// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package task

import (
	"github.com/rock-core/roby-go/event"
	"github.com/rock-core/roby-go/relation"
)

// TerminalFlag is the cached terminal_flag value of a TaskEventGenerator
// (spec.md §4.4): whether emitting this event leads to the owning task's
// stop (and, if so, via which branch).
type TerminalFlag int

const (
	// TerminalUnknown means the flag hasn't been computed since the last
	// invalidation.
	TerminalUnknown TerminalFlag = iota
	// TerminalNo means this event's Signal/Forwarding closure does not
	// reach the task's stop event.
	TerminalNo
	// TerminalYes means it reaches stop, but not specifically through
	// success or failed.
	TerminalYes
	// TerminalSuccess means it reaches stop via the success branch.
	TerminalSuccess
	// TerminalFailure means it reaches stop via the failed branch.
	TerminalFailure
)

// TaskEventGenerator is an EventGenerator exclusively owned by a Task
// (spec.md §4.4). It delegates read_write/owners/plan to the task and
// caches whether emitting it is terminal for the task.
type TaskEventGenerator struct {
	*event.Generator
	Task   *Task
	Symbol string

	terminal TerminalFlag
}

func newTaskEventGenerator(t *Task, symbol string, controllable bool, cmd event.Command) *TaskEventGenerator {
	id := relation.VertexID(string(t.ID()) + "." + symbol)
	g := event.New(id, t.host, controllable, cmd, t.signal, t.forwarding)
	teg := &TaskEventGenerator{Generator: g, Task: t, Symbol: symbol}
	g.SetOwnerCheck(func() bool { return t.ReadWrite() })
	return teg
}

// InvalidateTerminalFlag forces the next TerminalFlag() call to recompute,
// per spec.md §4.4 "invalidated on any Signal/Forwarding edge change
// touching the task's bound events".
func (teg *TaskEventGenerator) InvalidateTerminalFlag() {
	teg.terminal = TerminalUnknown
}

// TerminalFlagValue returns the cached (or freshly computed) terminal
// flag, checking reachability to the task's success/failed/stop events
// through the union of the Signal and Forwarding relations.
func (teg *TaskEventGenerator) TerminalFlagValue() TerminalFlag {
	if teg.terminal != TerminalUnknown {
		return teg.terminal
	}
	roots := []relation.VertexID{teg.ID()}
	switch {
	case relation.Reaches(roots, teg.Task.boundEvents["success"].ID(), teg.Task.signal, teg.Task.forwarding):
		teg.terminal = TerminalSuccess
	case relation.Reaches(roots, teg.Task.boundEvents["failed"].ID(), teg.Task.signal, teg.Task.forwarding):
		teg.terminal = TerminalFailure
	case relation.Reaches(roots, teg.Task.boundEvents["stop"].ID(), teg.Task.signal, teg.Task.forwarding):
		teg.terminal = TerminalYes
	default:
		teg.terminal = TerminalNo
	}
	return teg.terminal
}
