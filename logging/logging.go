// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

// Package logging provides the narrow log sink interface that the execution
// core calls into for every structural mutation, emission, exception and
// cycle boundary, plus a default implementation backed by
// github.com/hashicorp/go-hclog.
//
// The core never depends on hclog directly outside of this package: it only
// ever sees a [Sink]. Embedders that don't want logs use [Noop]; embedders
// that want structured logs use [NewHCLogSink] or supply their own [Sink].
package logging

import (
	"os"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
)

// Sink is the interface the engine calls with (event_kind, positional
// args...) tuples for every structural mutation, emission, exception, GC
// decision and cycle boundary. Implementations must be safe to call only
// from the engine thread; the core never calls a Sink concurrently.
type Sink interface {
	// Log records one occurrence of kind, with args interpreted the way
	// hclog.Logger.Trace interprets alternating key/value pairs.
	Log(kind string, args ...any)

	// Named returns a Sink scoped to a named sub-component, the way
	// hclog.Logger.Named does. Implementations that don't support naming
	// may return themselves.
	Named(name string) Sink
}

type noopSink struct{}

func (noopSink) Log(string, ...any)   {}
func (n noopSink) Named(string) Sink { return n }

// Noop is a [Sink] that discards everything. It is the default for a Plan
// or Engine that isn't given an explicit Sink.
var Noop Sink = noopSink{}

// hclogSink adapts an hclog.Logger to [Sink], following the
// backend-oracle_oci log.go pattern of a Named(), With()-decorated logger
// kept behind a small wrapper type.
type hclogSink struct {
	logger hclog.Logger
}

var baseLogger = sync.OnceValue(func() hclog.Logger {
	level := hclog.LevelFromString(os.Getenv("ROBY_LOG"))
	if level == hclog.NoLevel {
		level = hclog.Off
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            "roby",
		Level:           level,
		Output:          os.Stderr,
		IncludeLocation: level <= hclog.Debug,
	})
})

// NewHCLogSink returns a [Sink] backed by the process-wide hclog logger,
// named for the given component the way the teacher's backend loggers are
// named per backend (e.g. "backend-oracle_oci").
func NewHCLogSink(component string) Sink {
	return hclogSink{logger: baseLogger().Named(component)}
}

// Log implements Sink.
func (s hclogSink) Log(kind string, args ...any) {
	s.logger.Trace(kind, args...)
}

// Named implements Sink.
func (s hclogSink) Named(name string) Sink {
	return hclogSink{logger: s.logger.Named(name)}
}
