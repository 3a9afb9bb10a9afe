// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package exception

// Disposition is what a [Handler] reports back to spec.md §4.7's exception
// propagation: whether it dealt with the exception or wants the next
// handler in the chain to have a look.
type Disposition int

const (
	// Passed means the handler declined the exception; propagation tries
	// the next handler in the chain (or, having run out, the next
	// Hierarchy ancestor).
	Passed Disposition = iota
	// Handled means the handler dealt with the exception; propagation
	// stops lifting it any further.
	Handled
)

// Handler is a user or plan-level exception handler, registered against a
// [Matcher] (spec.md §6 "on_exception(matcher)"). Panics raised inside a
// Handler are not caught here: callers invoke handlers through
// [Guard]-wrapped boundaries so a misbehaving handler can't take the
// engine thread down with it.
type Handler func(exc *ExecutionException) Disposition

// Matcher reports whether a Handler applies to exc.
type Matcher func(exc *ExecutionException) bool

// MatchKind returns a Matcher that accepts any of the given kinds.
func MatchKind(kinds ...Kind) Matcher {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(exc *ExecutionException) bool { return set[exc.Kind] }
}

// MatchAny is a Matcher that accepts every exception; used for catch-all
// plan-level handlers.
func MatchAny(*ExecutionException) bool { return true }

// entry pairs a Matcher with the Handler it guards, and is embeddable by
// both task.Task and plan.Plan so the two handler chains (spec.md §4.7
// "invoke its handler chain (most-specific first)") share one shape.
type entry struct {
	matcher Matcher
	handler Handler
}

// Chain is an ordered list of matcher-guarded handlers, most-recently
// registered first: a handler added after another is assumed to be the
// more specific override, mirroring the way Roby task models let a
// subclass's `on_exception` shadow its parent's.
type Chain struct {
	entries []entry
}

// Add registers handler under matcher, to be tried before every handler
// already in the chain.
func (c *Chain) Add(matcher Matcher, handler Handler) {
	c.entries = append([]entry{{matcher, handler}}, c.entries...)
}

// Run tries every handler in the chain in most-specific-first order,
// stopping at the first one that both matches and returns Handled.
// Handlers whose matcher doesn't match exc are skipped without being
// invoked; this is distinct from a Handler itself returning Passed. A
// handler that panics is treated as Passed: the panic is recovered and
// logged into disposition via the returned error, matching spec.md §4.7
// "a handler ... throws. Passed means try the next handler."
func (c *Chain) Run(exc *ExecutionException) (Disposition, error) {
	var panics []error
	for _, e := range c.entries {
		if !e.matcher(exc) {
			continue
		}
		var disp Disposition
		if err := Guard(EventHandlerError, "exception handler", func() error {
			disp = e.handler(exc)
			return nil
		}); err != nil {
			panics = append(panics, err) // handler panicked: treated as Passed, per spec.md §7 EventHandlerError
			continue
		}
		if disp == Handled {
			return Handled, nil
		}
	}
	if len(panics) == 0 {
		return Passed, nil
	}
	agg := NewAborting()
	for _, p := range panics {
		agg.Add(p)
	}
	return Passed, agg.ErrorOrNil()
}
