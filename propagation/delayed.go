// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package propagation

import (
	"container/heap"
	"time"

	"github.com/rock-core/roby-go/event"
)

// delayedEntry is one propagation record whose TimeSpec resolved to a
// future instant (spec.md §4.6 "delayed events"), waiting in fireAt
// order for its time reference to pass.
type delayedEntry struct {
	fireAt time.Time
	rec    event.Record
}

// delayedHeap is a priority-ordered structure by fire time, per spec.md
// §4.6: "Maintained as a separate priority-ordered structure by fire
// time; at cycle start, all past-due entries are re-enqueued into the
// gather set."
type delayedHeap []delayedEntry

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h delayedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x any) { *h = append(*h, x.(delayedEntry)) }

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*delayedHeap)(nil)
