// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package event

import (
	"testing"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/relation"
)

// fakeHost is a minimal Host for unit tests: propagation is modeled as
// "always outside a step", and RunToFixedPoint just drains the queued
// records, invoking the command for a signal record and EmitNow for a
// forwarding one; it does not follow Signal/Forwarding edges. That is
// good enough to exercise call/emit
// validation and the on()/if_unreachable() bookkeeping without a full
// propagation engine.
type fakeHost struct {
	now         time.Time
	executable  map[ID]bool
	onThread    bool
	queue       []Record
	propID      int
	generators  map[ID]*Generator
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		now:        time.Unix(0, 0),
		executable: make(map[ID]bool),
		onThread:   true,
		generators: make(map[ID]*Generator),
	}
}

func (h *fakeHost) Now() time.Time          { return h.now }
func (h *fakeHost) OnEngineThread() bool    { return h.onThread }
func (h *fakeHost) InPropagation() bool     { return false }
func (h *fakeHost) Enqueue(rec Record)      { h.queue = append(h.queue, rec) }
func (h *fakeHost) Executable(id ID) bool   { return h.executable[id] }

func (h *fakeHost) RunToFixedPoint() error {
	h.propID++
	for len(h.queue) > 0 {
		rec := h.queue[0]
		h.queue = h.queue[1:]
		g := h.generators[rec.To]
		if rec.Kind == KindSignal {
			if err := g.CallCommand(rec.Context); err != nil {
				return err
			}
		} else {
			if _, err := g.EmitNow(rec.Context, h.propID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func newTestGraphs() (*relation.Graph, *relation.Graph) {
	signalKind := relation.NewKind("Signal", false, true, false, false, true)
	forwardKind := relation.NewKind("Forwarding", false, true, false, false, true)
	return relation.New(signalKind), relation.New(forwardKind)
}

func TestEmitRecordsHistoryAndFiresHandlers(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	g := New("e1", host, false, nil, sig, fwd)
	host.generators["e1"] = g
	host.executable["e1"] = true

	var gotEv *Event
	g.On(func(ev *Event) { gotEv = ev })

	if err := g.Emit(cty.StringVal("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.Happened() {
		t.Fatalf("expected Happened() to be true after emission")
	}
	if gotEv == nil || gotEv.Context.AsString() != "hi" {
		t.Fatalf("handler did not observe the emitted event: %+v", gotEv)
	}
	if len(g.History()) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(g.History()))
	}
}

func TestEmitRejectedWhenNotExecutable(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	g := New("e1", host, false, nil, sig, fwd)
	host.generators["e1"] = g
	// executable map defaults to false

	if err := g.Emit(cty.NilVal); err == nil {
		t.Fatalf("expected an error for a non-executable generator")
	}
}

func TestCallRejectedWhenNotControllable(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	g := New("e1", host, false, nil, sig, fwd)
	host.generators["e1"] = g
	host.executable["e1"] = true

	if err := g.Call(cty.NilVal); err == nil {
		t.Fatalf("expected EventNotControlable")
	}
}

func TestCallInvokesCommand(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	var invoked bool
	cmd := func(g *Generator, ctx Context) error {
		invoked = true
		_, err := g.EmitNow(ctx, 1, nil)
		return err
	}
	g := New("e1", host, true, cmd, sig, fwd)
	host.generators["e1"] = g
	host.executable["e1"] = true

	if err := g.Call(cty.NilVal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invoked {
		t.Fatalf("expected the command to run")
	}
	if !g.Happened() {
		t.Fatalf("expected the command's EmitNow to register as happened")
	}
}

func TestUnreachableIsMonotonicAndCarriesReason(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	g := New("e1", host, false, nil, sig, fwd)
	host.generators["e1"] = g
	host.executable["e1"] = true

	var gotReason any
	g.IfUnreachable(false, func(reason any, cause *Event) { gotReason = reason })

	g.MarkUnreachable("first")
	g.MarkUnreachable("second")

	if !g.Unreachable() {
		t.Fatalf("expected Unreachable() true")
	}
	if gotReason != "first" {
		t.Fatalf("expected the first reason to stick, got %v", gotReason)
	}
	if err := g.Emit(cty.NilVal); err == nil {
		t.Fatalf("expected emit on an unreachable generator to fail")
	}
}

func TestAndGeneratorEmitsOnlyWhenAllSourcesFired(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	a := New("a", host, false, nil, sig, fwd)
	b := New("b", host, false, nil, sig, fwd)
	host.generators["a"], host.generators["b"] = a, b
	host.executable["a"], host.executable["b"] = true, true

	and := NewAndGenerator(host, "and", sig, fwd, a, b)
	var fired int
	and.On(func(ev *Event) { fired++ })

	if err := a.Emit(cty.NilVal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 0 {
		t.Fatalf("expected no emission yet, only one source fired")
	}
	if err := b.Emit(cty.NilVal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected exactly one emission once both sources fired, got %d", fired)
	}

	and.Reset()
	if err := a.Emit(cty.NilVal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected no new emission after reset until both sources fire again")
	}
}

func TestOrGeneratorEmitsOnFirstSource(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	a := New("a", host, false, nil, sig, fwd)
	b := New("b", host, false, nil, sig, fwd)
	host.generators["a"], host.generators["b"] = a, b
	host.executable["a"], host.executable["b"] = true, true

	or := NewOrGenerator(host, "or", sig, fwd, a, b)
	var fired int
	or.On(func(ev *Event) { fired++ })

	if err := a.Emit(cty.NilVal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Emit(cty.NilVal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected exactly one emission, got %d", fired)
	}
}

func TestOrGeneratorUnreachableWhenAllSourcesUnreachable(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	a := New("a", host, false, nil, sig, fwd)
	b := New("b", host, false, nil, sig, fwd)
	host.generators["a"], host.generators["b"] = a, b
	host.executable["a"], host.executable["b"] = true, true

	or := NewOrGenerator(host, "or", sig, fwd, a, b)

	a.MarkUnreachable("R1")
	if or.Unreachable() {
		t.Fatalf("expected or to still be reachable with one source unreachable")
	}
	b.MarkUnreachable("R2")
	if !or.Unreachable() {
		t.Fatalf("expected or to become unreachable once all sources are")
	}
	if or.UnreachableReason() != "R1" {
		t.Fatalf("expected the first recorded reason R1, got %v", or.UnreachableReason())
	}
}

func TestUntilGeneratorStopsForwardingAfterLimit(t *testing.T) {
	host := newFakeHost()
	sig, fwd := newTestGraphs()
	source := New("s", host, false, nil, sig, fwd)
	limit := New("l", host, false, nil, sig, fwd)
	host.generators["s"], host.generators["l"] = source, limit
	host.executable["s"], host.executable["l"] = true, true

	u := NewUntilGenerator(host, "u", source, limit)
	var fired int
	u.On(func(ev *Event) { fired++ })

	_ = source.Emit(cty.NilVal)
	if fired != 1 {
		t.Fatalf("expected u to forward the first emission, got %d", fired)
	}
	_ = limit.Emit(cty.NilVal)
	_ = source.Emit(cty.NilVal)
	if fired != 1 {
		t.Fatalf("expected u to stay silent after limit fired, got %d", fired)
	}
}
