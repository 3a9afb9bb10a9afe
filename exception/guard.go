// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package exception

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// Guard runs f and converts any panic into a *RobyError of the given kind,
// the way internal/errorhandling.Safe2 in the teacher converts a panic
// into a returned error. It's the handler boundary spec.md §4.6 requires:
// "User command/handler exceptions are captured and wrapped as
// CommandFailed/EmissionFailed/EventHandlerError".
//
// If the recovered value is itself an error it becomes the wrapped Cause;
// otherwise it's rendered with spew.Sdump so the wrapped error's message
// still shows the shape of whatever non-error value was thrown, instead of
// just "%v".
func Guard(kind Kind, label string, f func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if cause, ok := r.(error); ok {
			err = Wrap(kind, cause, "%s", label)
			return
		}
		err = New(kind, "%s: panic: %s", label, spew.Sdump(r))
	}()
	return f()
}
