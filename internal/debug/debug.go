// Package debug holds the compile-time trace switch for the evaluation path.
//
// Enabled is a build-time constant so that trace calls compile to nothing in
// production builds. Flip it to true locally when chasing a rule-ordering or
// predicate problem.
package debug

import (
	"fmt"
	"log/slog"
)

// Enabled gates per-rule trace output on the hot path.
const Enabled = false

// Tracef logs a debug line when tracing is compiled in. Callers should guard
// any expensive argument construction with debug.Enabled themselves.
func Tracef(format string, args ...any) {
	if Enabled {
		slog.Debug(fmt.Sprintf(format, args...))
	}
}
