// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package propagation

import "github.com/rock-core/roby-go/event"

// pendingEntry is one target generator's accumulated gather-set entry
// (spec.md §4.6 "gathering phase"): contributions merged by source
// generator, deduped and kept in first-contribution order so the
// assembled sources/context are deterministic regardless of how many
// times the same source re-queued a record this step.
type pendingEntry struct {
	kind     event.Kind
	conflict bool
	keys     []string
	bySource map[string]event.Record
}

func newPendingEntry(rec event.Record) *pendingEntry {
	return &pendingEntry{kind: rec.Kind, bySource: make(map[string]event.Record)}
}

// add merges rec into the entry, per spec.md §4.6 step 3 ("merge
// contributions by source generator, collapse duplicates from the same
// source"). A kind mismatch against the entry's existing kind is
// recorded, not rejected outright: the conflict is raised as a
// PropagationError once the entry is picked (step 4), so every other
// pending target still gets a chance to run this step.
func (e *pendingEntry) add(key string, rec event.Record) {
	if rec.Kind != e.kind {
		e.conflict = true
	}
	if _, dup := e.bySource[key]; !dup {
		e.keys = append(e.keys, key)
	}
	e.bySource[key] = rec
}
