// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package event

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/relation"
)

// AndGenerator emits once every one of its sources has emitted at least
// once since the last reset (spec.md §4.8). It becomes unreachable if any
// source becomes unreachable without having emitted since the last reset.
type AndGenerator struct {
	*Generator
	sources []*Generator
	fired   map[ID]*Event
	armed   bool
}

// NewAndGenerator builds an AndGenerator over sources, registering itself
// as a handler on each (spec.md §9, "handlers as data" — the combinator is
// wired the same way user code would use On/IfUnreachable, not through a
// privileged hook).
func NewAndGenerator(host Host, id ID, signal, forwarding *relation.Graph, sources ...*Generator) *AndGenerator {
	a := &AndGenerator{
		Generator: New(id, host, false, nil, signal, forwarding),
		sources:   sources,
		fired:     make(map[ID]*Event),
		armed:     true,
	}
	for _, src := range sources {
		src := src
		src.On(func(ev *Event) { a.onSourceFired(src, ev) })
		src.IfUnreachable(false, func(reason any, cause *Event) { a.onSourceUnreachable(src) })
	}
	return a
}

func (a *AndGenerator) onSourceFired(src *Generator, ev *Event) {
	a.fired[src.ID()] = ev
	if !a.armed || len(a.fired) < len(a.sources) {
		return
	}
	a.armed = false
	var sources []*Event
	maxPropID := 0
	for _, s := range a.sources {
		e := a.fired[s.ID()]
		sources = append(sources, e)
		if e.PropagationID > maxPropID {
			maxPropID = e.PropagationID
		}
	}
	_, _ = a.EmitNow(cty.NilVal, maxPropID, sources)
}

func (a *AndGenerator) onSourceUnreachable(src *Generator) {
	if _, ok := a.fired[src.ID()]; ok {
		return
	}
	a.MarkUnreachable(src.UnreachableReason())
}

// Reset re-arms the combinator: clears the per-source emission baseline
// and the emitted latch so a fresh round of all-sources-emit is required
// before the next emission (spec.md §4.8 "emit at most once per reset").
func (a *AndGenerator) Reset() {
	a.fired = make(map[ID]*Event)
	a.armed = true
}

// OrGenerator emits once, on the first emission among its sources
// (spec.md §4.8). It becomes unreachable once all sources are unreachable
// and it has not yet emitted, carrying the first recorded reason.
type OrGenerator struct {
	*Generator
	sources          []*Generator
	unreachableCount int
	firstReason      any
	armed            bool
}

// NewOrGenerator builds an OrGenerator over the given sources.
func NewOrGenerator(host Host, id ID, signal, forwarding *relation.Graph, sources ...*Generator) *OrGenerator {
	o := &OrGenerator{
		Generator: New(id, host, false, nil, signal, forwarding),
		sources:   sources,
		armed:     true,
	}
	for _, src := range sources {
		src := src
		src.On(func(ev *Event) { o.onSourceFired(src, ev) })
		src.IfUnreachable(false, func(reason any, cause *Event) { o.onSourceUnreachable(reason) })
	}
	return o
}

func (o *OrGenerator) onSourceFired(src *Generator, ev *Event) {
	if !o.armed {
		return
	}
	o.armed = false
	_, _ = o.EmitNow(ev.Context, ev.PropagationID, []*Event{ev})
}

func (o *OrGenerator) onSourceUnreachable(reason any) {
	if !o.armed {
		return
	}
	if o.unreachableCount == 0 {
		o.firstReason = reason
	}
	o.unreachableCount++
	if o.unreachableCount == len(o.sources) {
		o.MarkUnreachable(o.firstReason)
	}
}

// Reset re-arms the combinator for another round.
func (o *OrGenerator) Reset() {
	o.armed = true
	o.unreachableCount = 0
	o.firstReason = nil
}

// UntilGenerator is the named form of Generator.Until: a temporal filter
// that forwards source until limit fires, then falls silent (spec.md
// §4.8). Kept as a thin wrapper so callers working against the three
// combinator types in the spec have a symmetric API; the forwarding logic
// itself lives in Generator.Until since it needs no extra state beyond a
// closed-over "active" flag.
type UntilGenerator struct {
	*Generator
}

// NewUntilGenerator wires source.Until(host, id, limit) and returns it
// wrapped as an UntilGenerator.
func NewUntilGenerator(host Host, id ID, source, limit *Generator) *UntilGenerator {
	return &UntilGenerator{Generator: source.Until(host, id, limit)}
}
