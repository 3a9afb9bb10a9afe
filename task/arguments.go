// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package task implements Task, TaskArguments and TaskEventGenerator
// (spec.md §4.4, §4.5): the per-task lifecycle state machine, its bound
// events, and argument freezing at start.
package task

import (
	"github.com/mitchellh/copystructure"
	"github.com/zclconf/go-cty/cty"

	"github.com/rock-core/roby-go/exception"
)

// Unresolved is the sentinel a Resolver returns to signal "no value yet"
// (spec.md §4.5, argument freezing).
var Unresolved = cty.DynamicVal

// Resolver computes a delayed argument's ground value at start time,
// given the owning task. Weak resolvers that return Unresolved don't
// block `start`; non-weak ones that do fail the task into
// failed_to_start.
type Resolver struct {
	Resolve func(t *Task) (cty.Value, error)
	Weak    bool
}

type argSlot struct {
	value    cty.Value
	resolver *Resolver
	grounded bool
}

// Arguments is a string-keyed argument table with single-assignment
// semantics for grounded values (spec.md §3 "TaskArguments").
type Arguments struct {
	slots map[string]*argSlot
}

// NewArguments returns an empty argument table.
func NewArguments() *Arguments {
	return &Arguments{slots: make(map[string]*argSlot)}
}

// Set assigns a fully-computed (grounded) value. Re-setting an existing
// grounded key to a different value is rejected, per the single-assignment
// invariant; re-setting to an equal value is a no-op success.
func (a *Arguments) Set(key string, value cty.Value) error {
	if slot, ok := a.slots[key]; ok && slot.grounded {
		if slot.value.RawEquals(value) {
			return nil
		}
		return exception.New(exception.OwnershipError,
			"argument %q is already set and cannot be overwritten", key)
	}
	a.slots[key] = &argSlot{value: value, grounded: true}
	return nil
}

// SetDelayed assigns a delayed value: resolved only when the owning task
// starts.
func (a *Arguments) SetDelayed(key string, resolver Resolver) {
	a.slots[key] = &argSlot{resolver: &resolver}
}

// Get returns the key's current value and whether it's grounded yet
// (false for an unresolved delayed argument).
func (a *Arguments) Get(key string) (cty.Value, bool) {
	slot, ok := a.slots[key]
	if !ok {
		return cty.NilVal, false
	}
	return slot.value, slot.grounded
}

// Keys returns every argument key, grounded or delayed.
func (a *Arguments) Keys() []string {
	out := make([]string, 0, len(a.slots))
	for k := range a.slots {
		out = append(out, k)
	}
	return out
}

// Freeze resolves every delayed argument by invoking its resolver with t
// as context, per spec.md §4.5 "argument freezing". It returns the first
// failure it meets, in map order: a resolver's own error (weak or not), or
// a non-weak resolver returning Unresolved. Weak resolvers that return
// Unresolved are left delayed and do not block start.
func (a *Arguments) Freeze(t *Task) error {
	for key, slot := range a.slots {
		if slot.grounded || slot.resolver == nil {
			continue
		}
		value, err := slot.resolver.Resolve(t)
		if err != nil {
			return exception.Wrap(exception.OwnershipError, err, "resolving argument %q", key)
		}
		if value.RawEquals(Unresolved) {
			if slot.resolver.Weak {
				continue
			}
			return exception.New(exception.OwnershipError, "argument %q has no value at start and is not weak", key)
		}
		slot.value = value
		slot.grounded = true
	}
	return nil
}

// DeepCopy returns an independent copy of a, used by ReplaceBy to give the
// replacement task its own argument table (spec.md §4.5 replacement;
// design note's preference for composition over shared mutable state).
func (a *Arguments) DeepCopy() *Arguments {
	out := NewArguments()
	for k, slot := range a.slots {
		clone := *slot
		if slot.grounded {
			copied, err := copystructure.Copy(slot.value)
			if err == nil {
				if v, ok := copied.(cty.Value); ok {
					clone.value = v
				}
			}
		}
		out.slots[k] = &clone
	}
	return out
}
