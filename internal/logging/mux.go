// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"sync"
	"time"
)

// MultiLogger is a Logger that copies logs to multiple underlying loggers.
//
// Loggers can be added and removed while a MultiLogger is in use.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger creates a new MultiLogger with the given underlying loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// AddLogger adds a logger to the set of underlying loggers.
func (l *MultiLogger) AddLogger(logger Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loggers = append(l.loggers, logger)
}

// RemoveLogger removes a logger from the set of underlying loggers.
func (l *MultiLogger) RemoveLogger(logger Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, lg := range l.loggers {
		if lg == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// Log copies a log entry to all underlying loggers.
func (l *MultiLogger) Log(level Level, ts time.Time, msg string) {
	l.mu.Lock()
	loggers := make([]Logger, len(l.loggers))
	copy(loggers, l.loggers)
	l.mu.Unlock()

	for _, lg := range loggers {
		lg.Log(level, ts, msg)
	}
}
