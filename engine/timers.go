// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import "time"

// everyTimer is one "every N seconds" registration (spec.md §6 "every
// (duration)"), fired from Cycle once its deadline passes.
type everyTimer struct {
	interval time.Duration
	next     time.Time
	fn       func()
}

// Every registers fn to run once every interval, starting one interval
// from now, drained at the end of each Cycle (spec.md §4.7 "drain 'every N
// seconds' timers whose deadline passed"). Unlike a delayed signal, an
// every-timer is not tied to any generator and is never pruned by GC.
func (e *Engine) Every(interval time.Duration, fn func()) {
	e.everyTimers = append(e.everyTimers, &everyTimer{
		interval: interval,
		next:     e.clock.Now().Add(interval),
		fn:       fn,
	})
}

// drainEvery runs every timer whose deadline has passed, rescheduling it
// interval past its own previous deadline (not past "now") so a
// momentarily slow cycle doesn't compound into permanent drift.
func (e *Engine) drainEvery() {
	now := e.clock.Now()
	for _, t := range e.everyTimers {
		for !t.next.After(now) {
			t.fn()
			t.next = t.next.Add(t.interval)
		}
	}
}
