// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package exception

import (
	"fmt"

	"github.com/hashicorp/errwrap"
)

// RobyError is a structured error returned directly by a validation failure
// that never travels through task hierarchy: a rejected call/emit, a
// relation-graph invariant violation, an ownership check. It always names
// its [Kind] so callers can switch on it instead of parsing strings.
type RobyError struct {
	Kind    Kind
	Message string
	Cause   error
}

// New returns a RobyError of the given kind with no wrapped cause.
func New(kind Kind, format string, args ...any) *RobyError {
	return &RobyError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a RobyError of the given kind whose Error() text embeds
// cause's text (via errwrap, so errors.Is/As and errwrap.Contains keep
// working through the wrap) without losing cause as the Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...any) *RobyError {
	message := fmt.Sprintf(format, args...)
	wrapped := errwrap.Wrapf(message+": {{err}}", cause)
	return &RobyError{Kind: kind, Message: wrapped.Error(), Cause: cause}
}

// Error implements error.
func (e *RobyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the errors.Unwrap protocol.
func (e *RobyError) Unwrap() error { return e.Cause }

// Is reports whether target is a *RobyError with the same Kind, so that
// `errors.Is(err, exception.New(exception.CycleFoundError, ""))`-style
// comparisons by kind work without comparing messages.
func (e *RobyError) Is(target error) bool {
	other, ok := target.(*RobyError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}
