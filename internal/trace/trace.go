// Package trace is a thread-safe, source-tagged hot-path logger. It does
// not implement a replay reader/index — this core has no debug-log-replay
// UI, only the need to cheaply tag every free-list transition, allocation
// and NAND request with a source and a message during development.
package trace

import (
	"fmt"
	"sync/atomic"
)

// Sink receives trace lines. nil by default, meaning tracing is a no-op —
// callers enable it explicitly (e.g. from cmd/ftlsim with -trace).
type Sink interface {
	Trace(source, message string)
}

var sink atomic.Pointer[Sink]

// Open installs s as the active trace sink. Passing nil disables tracing.
func Open(s Sink) {
	if s == nil {
		sink.Store(nil)
		return
	}
	sink.Store(&s)
}

// Writef emits a formatted trace line tagged with source, if a sink is
// installed. Safe to call from any goroutine; a nil sink makes this a
// cheap no-op so hot-path call sites don't need to guard it themselves.
func Writef(source, format string, args ...any) {
	p := sink.Load()
	if p == nil {
		return
	}
	(*p).Trace(source, fmt.Sprintf(format, args...))
}

// WithSource returns a closure pre-bound to source, for call sites that
// trace repeatedly from one component.
func WithSource(source string) func(format string, args ...any) {
	return func(format string, args ...any) {
		Writef(source, format, args...)
	}
}
