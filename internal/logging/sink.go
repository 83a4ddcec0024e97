// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"io"
	"sync"
	"time"
)

// SinkLogger writes log entries to an io.Writer.
type SinkLogger struct {
	minLevel Level
	datetime bool
	mu       sync.Mutex // ensures atomic writes; protects the following fields
	out      io.Writer
	buf      []byte // for accumulating text to write
}

// NewSinkLogger creates a new SinkLogger writing to out. Entries below
// minLevel are discarded. If datetime is true, a timestamp is prepended to
// each line.
func NewSinkLogger(minLevel Level, datetime bool, out io.Writer) *SinkLogger {
	return &SinkLogger{minLevel: minLevel, datetime: datetime, out: out}
}

// Log writes a log entry to the underlying writer.
func (l *SinkLogger) Log(level Level, ts time.Time, msg string) {
	if level < l.minLevel {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = l.buf[:0]
	if l.datetime {
		l.buf = append(l.buf, ts.UTC().Format("2006-01-02T15:04:05.000000Z ")...)
	}
	l.buf = append(l.buf, msg...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		l.buf = append(l.buf, '\n')
	}
	l.out.Write(l.buf)
}
