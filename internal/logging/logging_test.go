// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sprigga/webpdtool/internal/logging"
)

func TestFuncLogger(t *testing.T) {
	var gotLevels []logging.Level
	var gotMsgs []string
	logger := logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
		gotLevels = append(gotLevels, level)
		gotMsgs = append(gotMsgs, msg)
	})
	logger.Log(logging.LevelDebug, time.UnixMilli(1), "foo")
	logger.Log(logging.LevelInfo, time.UnixMilli(2), "bar")

	wantLevels := []logging.Level{logging.LevelDebug, logging.LevelInfo}
	if diff := cmp.Diff(gotLevels, wantLevels); diff != "" {
		t.Fatalf("Levels mismatch (-got +want):\n%s", diff)
	}
	wantMsgs := []string{"foo", "bar"}
	if diff := cmp.Diff(gotMsgs, wantMsgs); diff != "" {
		t.Fatalf("Messages mismatch (-got +want):\n%s", diff)
	}
}

func TestSinkLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSinkLogger(logging.LevelInfo, false, &buf)
	logger.Log(logging.LevelDebug, time.Now(), "dropped")
	logger.Log(logging.LevelInfo, time.Now(), "kept")

	if got, want := buf.String(), "kept\n"; got != want {
		t.Errorf("Sink content = %q; want %q", got, want)
	}
}

func TestAttachLoggerPropagates(t *testing.T) {
	var outer, inner []string
	ctx := logging.AttachLogger(context.Background(),
		logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
			outer = append(outer, msg)
		}))
	ctx = logging.AttachLogger(ctx,
		logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
			inner = append(inner, msg)
		}))

	logging.Info(ctx, "hello")

	want := []string{"hello"}
	if diff := cmp.Diff(outer, want); diff != "" {
		t.Errorf("Outer logger mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(inner, want); diff != "" {
		t.Errorf("Inner logger mismatch (-got +want):\n%s", diff)
	}
}

func TestSetLogPrefix(t *testing.T) {
	var got []string
	ctx := logging.AttachLogger(context.Background(),
		logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
			got = append(got, msg)
		}))
	ctx = logging.SetLogPrefix(ctx, "[SN0001] ")

	logging.Infof(ctx, "item %d done", 3)

	if len(got) != 1 || !strings.HasPrefix(got[0], "[SN0001] ") {
		t.Errorf("Got logs %q; want single entry with prefix", got)
	}
}

func TestMultiLoggerRemove(t *testing.T) {
	var a, b int
	la := logging.NewFuncLogger(func(logging.Level, time.Time, string) { a++ })
	lb := logging.NewFuncLogger(func(logging.Level, time.Time, string) { b++ })
	m := logging.NewMultiLogger(la, lb)

	m.Log(logging.LevelInfo, time.Now(), "x")
	m.RemoveLogger(lb)
	m.Log(logging.LevelInfo, time.Now(), "y")

	if a != 2 || b != 1 {
		t.Errorf("Got a=%d b=%d; want a=2 b=1", a, b)
	}
}
