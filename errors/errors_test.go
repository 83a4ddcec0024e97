// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errors

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"testing"
)

func check(t *testing.T, err error, msg string, traceRegexp *regexp.Regexp) {
	if s := err.Error(); s != msg {
		t.Errorf("Wrong error message %q; want %q", s, msg)
	}
	if s := fmt.Sprintf("%v", err); s != msg {
		t.Errorf("Wrong default value %q; want %q", s, msg)
	}
	if tr := fmt.Sprintf("%+v", err); !traceRegexp.MatchString(tr) {
		t.Errorf("Wrong trace %q; should match %q", tr, traceRegexp)
	}
}

func TestNew(t *testing.T) {
	const msg = "meow"
	traceRegexp := regexp.MustCompile(`^meow
	at github.com/sprigga/webpdtool/errors\.TestNew \(errors_test.go:\d+\)`)

	err := New(msg)

	check(t, err, msg, traceRegexp)
}

func TestErrorf(t *testing.T) {
	const msg = "meow"
	traceRegexp := regexp.MustCompile(`^meow
	at github.com/sprigga/webpdtool/errors\.TestErrorf \(errors_test.go:\d+\)`)

	err := Errorf("%sow", "me")

	check(t, err, msg, traceRegexp)
}

func TestWrap(t *testing.T) {
	const msg = "meow: woof"
	traceRegexp := regexp.MustCompile(`(?s)^meow
	at github.com/sprigga/webpdtool/errors\.TestWrap \(errors_test.go:\d+\)
.*
woof
	at github.com/sprigga/webpdtool/errors\.TestWrap \(errors_test.go:\d+\)`)

	err := Wrap(New("woof"), "meow")

	check(t, err, msg, traceRegexp)
}

func TestWrapForeignError(t *testing.T) {
	const msg = "meow: woof"
	traceRegexp := regexp.MustCompile(`(?s)^meow
	at github.com/sprigga/webpdtool/errors\.TestWrapForeignError \(errors_test.go:\d+\)
.*
woof
	at \?\?\?`)

	err := Wrap(stderrors.New("woof"), "meow")

	check(t, err, msg, traceRegexp)
}

func TestUnwrap(t *testing.T) {
	sentinel := stderrors.New("woof")
	err := Wrap(sentinel, "meow")

	if !Is(err, sentinel) {
		t.Error("Is() = false; want true for wrapped sentinel")
	}
	if Unwrap(err) != sentinel {
		t.Errorf("Unwrap() = %v; want %v", Unwrap(err), sentinel)
	}
}
