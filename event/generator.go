// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package event

import (
	"github.com/rock-core/roby-go/exception"
	"github.com/rock-core/roby-go/relation"
)

// Command is the user-supplied body of a controllable generator's call,
// invoked with the call context. It should eventually lead to an emission,
// typically by calling EmitNow or by triggering external work that will.
type Command func(g *Generator, ctx Context) error

// Handler is a user callback registered with On, invoked once per emission
// in registration order (spec.md §4.3 "on").
type Handler struct {
	Func      func(ev *Event)
	Once      bool
	OnReplace ReplacePolicy
}

// ReplacePolicy controls what happens to a handler when its generator is
// replaced by another (spec.md §4.5, task replacement; §9 "Event handlers
// as data").
type ReplacePolicy int

const (
	// ReplaceDrop discards the handler on replacement (default).
	ReplaceDrop ReplacePolicy = iota
	// ReplaceCopy duplicates the handler onto the replacement generator.
	ReplaceCopy
)

// UnreachableHandler is registered with IfUnreachable.
type UnreachableHandler struct {
	Func              func(reason any, cause *Event)
	CancelAtEmission  bool
	OnReplace         ReplacePolicy
	dropped           bool
}

// CallingHook runs before a command is invoked. Returning a non-nil
// postponeReason defers the call until `until` next fires (a Signal edge
// until->self is registered). Returning a non-nil cancelErr aborts the
// call outright.
type CallingHook func(ctx Context) (until *Generator, postponeReason error, cancelErr error)

// Generator is the emission/call contract of a single signal source
// (spec.md §4.3). The zero value is not usable; use [New].
type Generator struct {
	id          ID
	host        Host
	controllable bool
	command     Command

	pending     bool
	happened    bool
	unreachable bool
	unreachableReason any

	alwaysCall bool

	history []*Event

	handlers             []*Handler
	unreachableHandlers  []*UnreachableHandler
	callingHooks         []CallingHook
	calledHooks          []func(ctx Context)
	emittingHooks        []func(ctx Context)
	firedHooks           []func(ev *Event)

	signal      *relation.Graph
	forwarding  *relation.Graph

	ownerCheck func() bool
}

// New returns a free-standing Generator with the given id. controllable
// generators require a non-nil command.
func New(id ID, host Host, controllable bool, command Command, signal, forwarding *relation.Graph) *Generator {
	return &Generator{
		id:           id,
		host:         host,
		controllable: controllable,
		command:      command,
		signal:       signal,
		forwarding:   forwarding,
	}
}

// ID returns the generator's stable identifier.
func (g *Generator) ID() ID { return g.id }

// OriginID implements exception.Origin for free events that fail with no
// owning task to route the resulting ExecutionException through (spec.md
// §4.7 routes exceptions with a task origin up Hierarchy; a free event has
// no Hierarchy parent, so its Trace stays a single entry).
func (g *Generator) OriginID() string { return string(g.id) }

// OriginLabel implements exception.Origin.
func (g *Generator) OriginLabel() string { return string(g.id) }

// Controllable reports whether a command was supplied at construction.
func (g *Generator) Controllable() bool { return g.controllable }

// Pending reports whether a call has been admitted but not yet emitted or
// cancelled.
func (g *Generator) Pending() bool { return g.pending }

// Happened reports whether the generator has ever successfully emitted.
// Monotonic (spec.md §8 invariant 6).
func (g *Generator) Happened() bool { return g.happened }

// Unreachable reports whether the generator has been marked unreachable.
// Monotonic (spec.md §8 invariant 7).
func (g *Generator) Unreachable() bool { return g.unreachable }

// UnreachableReason returns the reason recorded when the generator first
// became unreachable, or nil.
func (g *Generator) UnreachableReason() any { return g.unreachableReason }

// History returns the generator's past emissions, oldest first.
func (g *Generator) History() []*Event { return append([]*Event{}, g.history...) }

// SetAlwaysCall sets the propagation_mode == :always_call flag (spec.md
// §9 open question (a)): when true, the propagation engine's step may re-fire this
// generator even if it already fired earlier in the same cycle.
func (g *Generator) SetAlwaysCall(v bool) { g.alwaysCall = v }

// AlwaysCall reports the flag set by SetAlwaysCall.
func (g *Generator) AlwaysCall() bool { return g.alwaysCall }

// SetOwnerCheck installs the self_owned? predicate Emit's validation path
// consults (spec.md §4.3). A nil check is treated as always-owned.
func (g *Generator) SetOwnerCheck(f func() bool) { g.ownerCheck = f }

func (g *Generator) selfOwned() bool {
	if g.ownerCheck == nil {
		return true
	}
	return g.ownerCheck()
}

// Call validates and submits a command invocation, per spec.md §4.3:
//
//	validates (plan exists and executable, generator is controllable,
//	current thread is the engine thread, not unreachable, propagation
//	allowed); if inside propagation, enqueues a propagation record; else
//	opens a propagation root, runs it to fixed point, then checks
//	unreachability (if due to an exception, surface it).
func (g *Generator) Call(ctx Context) error {
	if !g.controllable {
		return exception.New(exception.EventNotControlable, "%s is not controllable", g.id)
	}
	if err := g.validateCommon(); err != nil {
		return err
	}
	return g.submit(Record{Kind: KindSignal, To: g.id, Context: ctx})
}

// Emit validates and submits a direct emission (no command invocation),
// per spec.md §4.3 "emit": same validation path minus the controllable
// requirement, plus the self_owned? ownership check.
func (g *Generator) Emit(ctx Context) error {
	if !g.selfOwned() {
		return exception.New(exception.OwnershipError, "%s is not owned by the local process", g.id)
	}
	if err := g.validateCommon(); err != nil {
		return err
	}
	return g.submit(Record{Kind: KindForward, To: g.id, Context: ctx})
}

func (g *Generator) validateCommon() error {
	if !g.host.Executable(g.id) {
		return exception.New(exception.EventNotExecutable, "%s is not executable", g.id)
	}
	if g.unreachable {
		return exception.New(exception.UnreachableEvent, "%s is unreachable", g.id)
	}
	if !g.host.OnEngineThread() {
		return exception.New(exception.ThreadMismatch, "%s called off the engine thread", g.id)
	}
	return nil
}

func (g *Generator) submit(rec Record) error {
	if g.host.InPropagation() {
		g.host.Enqueue(rec)
		return nil
	}
	g.host.Enqueue(rec)
	if err := g.host.RunToFixedPoint(); err != nil {
		return err
	}
	if g.unreachable {
		if excErr, ok := g.unreachableReason.(error); ok {
			return excErr
		}
	}
	return nil
}

// CallCommand runs the user command without going through propagation's
// gather phase; the propagation engine's step calls this directly (spec.md §4.6 step
// 5, "call_without_propagation"). Calling hooks may postpone or cancel.
func (g *Generator) CallCommand(ctx Context) error {
	g.pending = true
	for _, hook := range g.callingHooks {
		until, postponeReason, cancelErr := hook(ctx)
		if cancelErr != nil {
			g.pending = false
			return exception.Wrap(exception.EmissionRejected, cancelErr, "%s: call cancelled", g.id)
		}
		if postponeReason != nil {
			g.pending = false
			if until != nil {
				_ = g.signal.AddEdge(until.id, g.id, TimeSpec{})
			}
			return nil
		}
	}
	err := exception.Guard(exception.CommandFailed, string(g.id)+": command", func() error {
		if g.command == nil {
			return nil
		}
		return g.command(g, ctx)
	})
	for _, hook := range g.calledHooks {
		hook(ctx)
	}
	if err != nil {
		g.pending = false
		return err
	}
	return nil
}

// EmitNow performs the emission itself: runs emitting hooks, appends to
// history, sets happened/pending, runs fired hooks and user handlers, and
// returns the produced Event. The propagation engine's step calls this directly
// ("emit_without_propagation"); it's also used internally by combinators
// and Filter/Until wrappers that synthesize an emission from upstream
// sources rather than from a command.
func (g *Generator) EmitNow(ctx Context, propagationID int, sources []*Event) (*Event, error) {
	for _, hook := range g.emittingHooks {
		hook(ctx)
	}
	ev := &Event{
		Generator:     g.id,
		PropagationID: propagationID,
		Context:       ctx,
		Time:          g.host.Now(),
		Sources:       sources,
	}
	g.history = append(g.history, ev)
	g.happened = true
	g.pending = false

	for _, hook := range g.firedHooks {
		hook(ev)
	}
	var handlerErr error
	remaining := g.handlers[:0]
	for _, h := range g.handlers {
		hErr := exception.Guard(exception.EventHandlerError, string(g.id)+": handler", func() error {
			h.Func(ev)
			return nil
		})
		if hErr != nil && handlerErr == nil {
			handlerErr = hErr
		}
		if !h.Once {
			remaining = append(remaining, h)
		}
	}
	g.handlers = remaining
	return ev, handlerErr
}

// MarkUnreachable sets the unreachable flag (a no-op if already set,
// preserving monotonicity) and fires unreachable-handlers in registration
// order, honoring CancelAtEmission (spec.md §4.3 "if_unreachable").
func (g *Generator) MarkUnreachable(reason any) {
	if g.unreachable {
		return
	}
	g.unreachable = true
	g.unreachableReason = reason
	for _, h := range g.unreachableHandlers {
		if h.dropped {
			continue
		}
		h.Func(reason, nil)
	}
}

// On registers an emission handler (spec.md §4.3 "on").
func (g *Generator) On(f func(ev *Event), opts ...func(*Handler)) *Handler {
	h := &Handler{Func: f}
	for _, o := range opts {
		o(h)
	}
	g.handlers = append(g.handlers, h)
	return h
}

// WithOnce marks a handler registration as firing only once.
func WithOnce(h *Handler) { h.Once = true }

// WithOnReplaceCopy marks a handler to be duplicated onto a replacement
// generator.
func WithOnReplaceCopy(h *Handler) { h.OnReplace = ReplaceCopy }

// IfUnreachable registers a handler fired once when unreachable becomes
// true (spec.md §4.3). If cancelAtEmission is true and the generator
// emits before becoming unreachable, the handler is dropped.
func (g *Generator) IfUnreachable(cancelAtEmission bool, f func(reason any, cause *Event)) *UnreachableHandler {
	h := &UnreachableHandler{Func: f, CancelAtEmission: cancelAtEmission}
	g.unreachableHandlers = append(g.unreachableHandlers, h)
	if cancelAtEmission {
		g.On(func(ev *Event) { h.dropped = true })
	}
	return h
}

// Signals requires target.Controllable() and registers a Signal edge from
// g to target with an optional delay spec.
func (g *Generator) Signals(target *Generator, when TimeSpec) error {
	if !target.Controllable() {
		return exception.New(exception.EventNotControlable, "%s is not controllable, cannot be a signal target", target.id)
	}
	return g.signal.AddEdge(g.id, target.id, when)
}

// ForwardTo registers a Forwarding edge from g to target; no
// controllability requirement.
func (g *Generator) ForwardTo(target *Generator, when TimeSpec) error {
	return g.forwarding.AddEdge(g.id, target.id, when)
}

// AchieveWith wires a one-shot forwarding from ev to g and, if ev becomes
// unreachable first, fails g with EmissionFailed (spec.md §4.3).
func (g *Generator) AchieveWith(ev *Generator) error {
	if err := ev.ForwardTo(g, TimeSpec{}); err != nil {
		return err
	}
	ev.On(func(*Event) { ev.forwarding.RemoveEdge(ev.id, g.id) }, WithOnce)
	ev.IfUnreachable(true, func(reason any, cause *Event) {
		g.MarkUnreachable(exception.New(exception.EmissionFailed, "%s: achieve_with source %s became unreachable", g.id, ev.id))
	})
	return nil
}

// AddCallingHook registers a pre-command hook (spec.md §4.3 "calling").
func (g *Generator) AddCallingHook(h CallingHook) { g.callingHooks = append(g.callingHooks, h) }

// AddCalledHook registers a post-command hook ("called").
func (g *Generator) AddCalledHook(h func(ctx Context)) { g.calledHooks = append(g.calledHooks, h) }

// AddEmittingHook registers a pre-emission hook ("emitting").
func (g *Generator) AddEmittingHook(h func(ctx Context)) { g.emittingHooks = append(g.emittingHooks, h) }

// AddFiredHook registers a post-emission hook ("fired").
func (g *Generator) AddFiredHook(h func(ev *Event)) { g.firedHooks = append(g.firedHooks, h) }

// CopyReplaceHandlersTo duplicates onto other every handler and
// unreachable-handler registered with ReplaceCopy, per spec.md §4.5
// "handlers with on_replace: :copy are duplicated onto the replacement."
func (g *Generator) CopyReplaceHandlersTo(other *Generator) {
	for _, h := range g.handlers {
		if h.OnReplace == ReplaceCopy {
			other.On(h.Func)
		}
	}
	for _, h := range g.unreachableHandlers {
		if h.OnReplace == ReplaceCopy {
			other.IfUnreachable(h.CancelAtEmission, h.Func)
		}
	}
}

// Filter returns a new free generator that re-emits whenever g emits,
// transforming the context through f.
func (g *Generator) Filter(host Host, newID ID, f func(Context) Context) *Generator {
	out := New(newID, host, false, nil, g.signal, g.forwarding)
	g.On(func(ev *Event) {
		_, _ = out.EmitNow(f(ev.Context), ev.PropagationID, []*Event{ev})
	})
	return out
}

// Until returns a generator that passes g's emissions through until limit
// emits, after which it stays silent (spec.md §4.3, §4.8).
func (g *Generator) Until(host Host, newID ID, limit *Generator) *Generator {
	out := New(newID, host, false, nil, g.signal, g.forwarding)
	active := true
	g.On(func(ev *Event) {
		if active {
			_, _ = out.EmitNow(ev.Context, ev.PropagationID, []*Event{ev})
		}
	})
	limit.On(func(ev *Event) { active = false })
	return out
}
