// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package session

import (
	"sync"
)

// progressQueueCap bounds the per-session progress stream. Publishing to a
// full queue drops the oldest event.
const progressQueueCap = 1024

// Progress is published after each item terminates.
type Progress struct {
	SessionID        string
	CurrentItem      int
	TotalItems       int
	Pass             int
	Fail             int
	Error            int
	PartialElapsedMS int64
}

// Telemetry is the per-session progress stream. The engine publishes, any
// number of external collaborators read Events. A slow reader loses the
// oldest events rather than stalling the session.
type Telemetry struct {
	sessionID string

	mu     sync.Mutex
	ch     chan Progress
	last   Progress
	seen   bool
	closed bool
}

func newTelemetry(sessionID string) *Telemetry {
	return &Telemetry{
		sessionID: sessionID,
		ch:        make(chan Progress, progressQueueCap),
	}
}

// Events returns the progress stream. The channel is closed when the
// session terminates.
func (t *Telemetry) Events() <-chan Progress {
	return t.ch
}

// Last returns the most recently published event.
func (t *Telemetry) Last() (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.seen
}

func (t *Telemetry) publish(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.last, t.seen = p, true
	for {
		select {
		case t.ch <- p:
			return
		default:
		}
		// Queue full: drop the oldest event and retry. Nobody else
		// writes, so the second attempt cannot race another producer.
		select {
		case <-t.ch:
		default:
		}
	}
}

func (t *Telemetry) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
}
