// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package exception

import (
	"fmt"
	"strings"
)

// Origin identifies the task an [ExecutionException] originates from, or
// one of the ancestors it has been lifted to, without this package
// depending on the task package (which itself depends on exception for
// routed errors).
type Origin interface {
	// OriginID is a stable identifier used for Identity comparison
	// (spec.md §4.7, "merge exceptions with equal identity at each
	// level").
	OriginID() string
	// OriginLabel is a human-readable label for log lines and Error().
	OriginLabel() string
}

// Identity is the comparison key spec.md §4.7 uses to merge exceptions
// that represent the same underlying failure as they're lifted through
// multiple Hierarchy parents.
type Identity struct {
	Kind     Kind
	OriginID string
}

// ExecutionException is a hierarchy-routed structured error: it carries
// the task it originated at plus the chain of ancestors it has been
// lifted to so far (design note §9, "structured error values with an
// origin + trace ... unify the paths and make the fatal set easy to
// aggregate").
type ExecutionException struct {
	Kind    Kind
	Origin  Origin
	Trace   []Origin // origin first, most recently lifted-to ancestor last
	Cause   error
	Message string
}

// NewException returns an ExecutionException whose Trace is just [origin].
func NewException(kind Kind, origin Origin, cause error, format string, args ...any) *ExecutionException {
	return &ExecutionException{
		Kind:    kind,
		Origin:  origin,
		Trace:   []Origin{origin},
		Cause:   cause,
		Message: fmt.Sprintf(format, args...),
	}
}

// Lift returns a copy of e forked to an additional Hierarchy ancestor,
// per spec.md §4.7 ("Lift to each Hierarchy parent (fork the exception
// per parent)"). The receiver is never mutated.
func (e *ExecutionException) Lift(ancestor Origin) *ExecutionException {
	next := *e
	next.Trace = append(append([]Origin{}, e.Trace...), ancestor)
	return &next
}

// Current returns the task the exception is presently being considered
// at: the last entry of Trace.
func (e *ExecutionException) Current() Origin {
	return e.Trace[len(e.Trace)-1]
}

// Identity returns the comparison key used to deduplicate this exception
// against others at the same Hierarchy level.
func (e *ExecutionException) Identity() Identity {
	return Identity{Kind: e.Kind, OriginID: e.Origin.OriginID()}
}

// Error implements error.
func (e *ExecutionException) Error() string {
	labels := make([]string, len(e.Trace))
	for i, o := range e.Trace {
		labels[i] = o.OriginLabel()
	}
	if e.Message != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, strings.Join(labels, " -> "), e.Message)
	}
	return fmt.Sprintf("%s at %s", e.Kind, strings.Join(labels, " -> "))
}

// Unwrap implements the errors.Unwrap protocol.
func (e *ExecutionException) Unwrap() error { return e.Cause }
