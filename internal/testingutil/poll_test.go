// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testingutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sprigga/webpdtool/errors"
)

func TestPollSucceeds(t *testing.T) {
	n := 0
	err := Poll(context.Background(), func(context.Context) error {
		n++
		if n < 3 {
			return errors.New("not yet")
		}
		return nil
	}, &PollOptions{Interval: time.Millisecond})
	if err != nil {
		t.Errorf("Poll() = %v; want nil", err)
	}
	if n != 3 {
		t.Errorf("Poll ran f %d times; want 3", n)
	}
}

func TestPollTimeout(t *testing.T) {
	err := Poll(context.Background(), func(context.Context) error {
		return errors.New("still busy")
	}, &PollOptions{Timeout: 10 * time.Millisecond, Interval: time.Millisecond})
	if err == nil {
		t.Fatal("Poll() = nil; want error")
	}
	if !strings.Contains(err.Error(), "still busy") {
		t.Errorf("Poll() = %q; should contain last error", err)
	}
}

func TestPollBreak(t *testing.T) {
	fatal := errors.New("device on fire")
	n := 0
	err := Poll(context.Background(), func(context.Context) error {
		n++
		return PollBreak(fatal)
	}, &PollOptions{Interval: time.Millisecond})
	if err != fatal {
		t.Errorf("Poll() = %v; want %v", err, fatal)
	}
	if n != 1 {
		t.Errorf("Poll ran f %d times; want 1", n)
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Error("Sleep() = nil; want error on canceled context")
	}
}
