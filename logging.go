// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdf

import "fmt"

// LogLevel represents log severity.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFunc is a single logger function that handles all levels. Install
// one with SetLogger; until then logging is a no-op.
type LogFunc func(level LogLevel, msg string, keyvals ...interface{})

var logFunc LogFunc = func(level LogLevel, msg string, keyvals ...interface{}) {}

// SetLogger installs the package-wide logger function.
func SetLogger(f LogFunc) {
	if f != nil {
		logFunc = f
	}
}

func logDebug(msg string, keyvals ...interface{}) {
	logFunc(LevelDebug, msg, keyvals...)
}

func logWarn(msg string, keyvals ...interface{}) {
	logFunc(LevelWarn, msg, keyvals...)
}

func logError(msg string, keyvals ...interface{}) {
	logFunc(LevelError, msg, keyvals...)
}

// Diagnostic is a single non-fatal recovery or validation event,
// surfaced to the caller on the returned document rather than only
// through the logger hook.
type Diagnostic struct {
	Message string
	Offset  int64 // -1 if not tied to a specific file position
}

// diagnostics accumulates Diagnostic values for one parse and forwards
// each to the installed logger as it is recorded.
type diagnostics struct {
	recordEnabled bool
	entries       []Diagnostic
}

func (d *diagnostics) add(offset int64, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if d.recordEnabled {
		d.entries = append(d.entries, Diagnostic{Message: msg, Offset: offset})
	}
	logWarn(msg, "offset", offset)
}
