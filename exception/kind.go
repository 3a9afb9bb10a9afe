// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package exception models the error taxonomy of the Roby execution core
// (spec §7) as values rather than language-native panics: a [Kind] plus an
// [ExecutionException] carrying an origin and a trace, per the "structured
// error values with an origin + trace" design note. Plain validation
// failures that never travel through task hierarchy use the lighter
// [RobyError] instead.
package exception

// Kind enumerates the error taxonomy from spec.md §7. It is a value, not a
// Go error type hierarchy, so that identity comparison and routing-policy
// lookups stay trivial.
type Kind string

const (
	EventNotExecutable       Kind = "EventNotExecutable"
	EventNotControlable      Kind = "EventNotControlable"
	UnreachableEvent         Kind = "UnreachableEvent"
	CommandFailed            Kind = "CommandFailed"
	EmissionFailed           Kind = "EmissionFailed"
	EmissionRejected         Kind = "EmissionRejected"
	EventHandlerError        Kind = "EventHandlerError"
	PropagationError         Kind = "PropagationError"
	OwnershipError           Kind = "OwnershipError"
	ReusingGarbage           Kind = "ReusingGarbage"
	CycleFoundError          Kind = "CycleFoundError"
	EdgeInfoConflict         Kind = "EdgeInfoConflict"
	MissionFailedError       Kind = "MissionFailedError"
	PermanentTaskError       Kind = "PermanentTaskError"
	TaskEmergencyTermination Kind = "TaskEmergencyTermination"
	ThreadMismatch           Kind = "ThreadMismatch"
	PhaseMismatch            Kind = "PhaseMismatch"
)

// Policy describes how the engine routes an error of a given [Kind], per
// the table in spec.md §7.
type Policy int

const (
	// PolicyReport errors are returned to the caller rather than routed by
	// the propagation engine. The engine does not check the policy when
	// routing, so a report-kind ExecutionException that does reach it (for
	// example one returned by a structure check) is routed like any other.
	PolicyReport Policy = iota
	// PolicyRouted errors have an origin task and travel up Hierarchy
	// through spec.md §4.7's exception propagation.
	PolicyRouted
	// PolicyFatal errors abort the current cycle immediately; the only
	// one in the taxonomy is PropagationError.
	PolicyFatal
)

// Policy reports the routing policy for k, per the spec.md §7 table.
func (k Kind) Policy() Policy {
	switch k {
	case PropagationError:
		return PolicyFatal
	case CommandFailed, EmissionFailed, EmissionRejected, EventHandlerError,
		MissionFailedError, PermanentTaskError, TaskEmergencyTermination:
		return PolicyRouted
	default:
		return PolicyReport
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }
