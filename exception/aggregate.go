// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package exception

import (
	"github.com/hashicorp/go-multierror"
)

// Aborting is the end-of-run aggregate named in spec.md §6 ("Error exit
// codes ... nonzero = engine terminated by unhandled fatal exception
// (with the Aborting aggregate carrying the exception list)"). It's also
// reused within a single cycle to collect the "true fatal" set left over
// after plan-level handlers have had a chance to handle everything
// (spec.md §4.7).
type Aborting struct {
	merr *multierror.Error
}

// NewAborting returns an empty Aborting aggregate.
func NewAborting() *Aborting {
	return &Aborting{merr: &multierror.Error{
		ErrorFormat: formatAborting,
	}}
}

// Add appends err to the aggregate, flattening nested *Aborting values so
// that repeated aggregation across cycles doesn't nest wrappers.
func (a *Aborting) Add(err error) *Aborting {
	if err == nil {
		return a
	}
	if inner, ok := err.(*Aborting); ok {
		for _, e := range inner.merr.Errors {
			a.merr = multierror.Append(a.merr, e)
		}
		return a
	}
	a.merr = multierror.Append(a.merr, err)
	return a
}

// Exceptions returns the accumulated *ExecutionException values that were
// added, skipping any plain errors (there normally are none, since only
// ExecutionException values reach the fatal set, but the aggregate
// doesn't enforce that).
func (a *Aborting) Exceptions() []*ExecutionException {
	var out []*ExecutionException
	for _, err := range a.merr.Errors {
		if exc, ok := err.(*ExecutionException); ok {
			out = append(out, exc)
		}
	}
	return out
}

// Len reports how many errors have been added.
func (a *Aborting) Len() int { return len(a.merr.Errors) }

// ErrorOrNil returns a, or nil if nothing was ever added, matching
// multierror.Error.ErrorOrNil's shape so callers can assign the result
// straight to an `error` return value.
func (a *Aborting) ErrorOrNil() error {
	if a.Len() == 0 {
		return nil
	}
	return a
}

// Error implements error.
func (a *Aborting) Error() string { return a.merr.Error() }

// ExitCode is the process exit code spec.md §6 assigns to this aggregate:
// 0 if empty (normal shutdown), 1 otherwise (terminated by unhandled
// fatal exception).
func (a *Aborting) ExitCode() int {
	if a.Len() == 0 {
		return 0
	}
	return 1
}

func formatAborting(errs []error) string {
	if len(errs) == 1 {
		return "1 fatal exception occurred:\n\t* " + errs[0].Error()
	}
	out := "multiple fatal exceptions occurred:\n"
	for _, err := range errs {
		out += "\t* " + err.Error() + "\n"
	}
	return out
}
