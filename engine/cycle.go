// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/task"
)

// Cycle runs one iteration of spec.md §4.7's pseudocode:
//
//	drain external-submitted thunks (once-queue, worker-completion)
//	run propagation to fixed point → (fatal_event_errors, emitted_events)
//	run each structure-check handler → collect structure_errors
//	propagate_exceptions(structure_errors ∪ fatal_event_errors) → unhandled
//	kill_set = union over unhandled errors of reverse-reachable-subgraph-in-Hierarchy
//	garbage_collect(kill_set)
//	drain "every N seconds" timers whose deadline passed
//
// Pacing (the sleep until the next cycle boundary) is Run's job, not
// Cycle's, so a caller driving cycles one at a time (as every test in
// this package does) never has to fight a sleep.
func (e *Engine) Cycle() error {
	e.Prop.SetOnEngineThread(true)

	e.Prop.DrainSubmissions()
	for _, f := range e.eachCycle {
		f()
	}

	_ = e.Prop.RunToFixedPoint() // errors are collected via DrainExceptions below
	fatalEventErrors := e.Prop.DrainExceptions()
	for _, err := range fatalEventErrors {
		if kindOf(err).Policy() == exception.PolicyFatal {
			return err // PropagationError: fatal, aborts the cycle per spec.md §7
		}
	}

	var structureErrors []error
	for _, check := range e.structureChecks {
		structureErrors = append(structureErrors, check(e.Plan)...)
	}

	pendingExceptions := e.pendingExceptions
	e.pendingExceptions = nil

	all := make([]*exception.ExecutionException, 0, len(fatalEventErrors)+len(structureErrors)+len(pendingExceptions))
	for _, err := range append(fatalEventErrors, structureErrors...) {
		exc, ok := err.(*exception.ExecutionException)
		if !ok {
			e.sink.Log("exception_dropped_no_origin", "error", err)
			continue
		}
		all = append(all, exc)
	}
	all = append(all, pendingExceptions...)

	trueFatal := e.propagateExceptions(all)

	killSet := killSetOf(trueFatal)
	if !e.config.ControlGC {
		if _, err := e.Plan.GarbageCollect(killSet...); err != nil {
			return err
		}
	}

	e.drainEvery()

	for _, f := range e.atCycleEnd {
		f()
	}

	if len(trueFatal) == 0 {
		return nil
	}
	agg := exception.NewAborting()
	for _, exc := range trueFatal {
		agg.Add(exc)
	}
	return agg
}

// propagateExceptions implements spec.md §4.7's routing: each exception is
// tried against its origin task's handler chain, then forked to every live
// Hierarchy parent (a finished parent is skipped), level by level, merging
// exceptions with equal identity at each level. Whatever survives every
// task-level chain is finally offered to the plan-level handlers; what
// they don't handle either is the "true fatal" set.
type levelKey struct {
	task     task.ID
	identity exception.Identity
}

func (e *Engine) propagateExceptions(excs []*exception.ExecutionException) []*exception.ExecutionException {
	var unhandledAtTaskLevel []*exception.ExecutionException
	frontier := excs
	for len(frontier) > 0 {
		var next []*exception.ExecutionException
		seen := make(map[levelKey]bool)
		for _, exc := range frontier {
			t, isTask := exc.Current().(*task.Task)
			if !isTask {
				unhandledAtTaskLevel = append(unhandledAtTaskLevel, exc)
				continue
			}
			if disp, _ := t.HandleException(exc); disp == exception.Handled {
				continue
			}
			parents := e.Plan.Hierarchy.ParentsOf(t.ID())
			forked := false
			for _, pid := range parents {
				pt, ok := e.Plan.Task(pid)
				if !ok || pt.Finished() {
					continue // "a finished parent is skipped"
				}
				lifted := exc.Lift(pt)
				key := levelKey{pid, lifted.Identity()}
				if seen[key] {
					continue
				}
				seen[key] = true
				next = append(next, lifted)
				forked = true
			}
			if !forked {
				unhandledAtTaskLevel = append(unhandledAtTaskLevel, exc)
			}
		}
		frontier = next
	}

	var trueFatal []*exception.ExecutionException
	for _, exc := range unhandledAtTaskLevel {
		if disp, _ := e.Plan.HandlePlanException(exc); disp == exception.Passed {
			trueFatal = append(trueFatal, exc)
		}
	}
	return trueFatal
}

// kindOf extracts the exception.Kind from either error shape the engine
// ever sees: a plain *exception.RobyError (e.g. PropagationError, which
// never gets an Origin to become an ExecutionException) or a routed
// *exception.ExecutionException.
func kindOf(err error) exception.Kind {
	switch e := err.(type) {
	case *exception.RobyError:
		return e.Kind
	case *exception.ExecutionException:
		return e.Kind
	default:
		return ""
	}
}

// killSetOf returns every task named in any fatal exception's Trace
// (spec.md §4.7 "kill_set = union over unhandled errors of reverse-
// reachable-subgraph-in-Hierarchy"): the Trace already records exactly the
// origin task and the chain of ancestors the exception was lifted through
// and not handled at, which is the reverse-reachable set from the origin.
func killSetOf(fatal []*exception.ExecutionException) []task.ID {
	seen := make(map[task.ID]bool)
	var ids []task.ID
	for _, exc := range fatal {
		for _, o := range exc.Trace {
			t, ok := o.(*task.Task)
			if !ok || seen[t.ID()] {
				continue
			}
			seen[t.ID()] = true
			ids = append(ids, t.ID())
		}
	}
	return ids
}
