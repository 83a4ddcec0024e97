// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging provides the logging framework used throughout webpdtool.
//
// A Logger is attached to a context.Context and log entries are emitted via
// package-level functions taking a context. Session-scoped loggers are
// layered on top of process-wide ones with AttachLogger, so everything
// logged during an item run reaches both the session log sink and the
// process log.
package logging

import "time"

// Level indicates a logging level. A larger level value means logs are more
// important.
type Level int

const (
	// LevelDebug is the level for verbose logs.
	LevelDebug Level = iota
	// LevelInfo is the level for informational logs.
	LevelInfo
)

// String returns a human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Logger is the interface to receive logs.
//
// Implementations must be safe to call Log from multiple goroutines
// concurrently.
type Logger interface {
	// Log receives a log entry.
	Log(level Level, ts time.Time, msg string)
}
