// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package shutil

import "testing"

func TestEscape(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"", "''"},
		{"abc", "abc"},
		{"ver=1.2.3", "ver=1.2.3"},
		{"=abc", "'=abc'"},
		{"cat /proc/meminfo", "'cat /proc/meminfo'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
	} {
		if got := Escape(tc.in); got != tc.want {
			t.Errorf("Escape(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeSlice(t *testing.T) {
	in := []string{"echo", "AT+GMR", "a b"}
	const want = `echo AT+GMR 'a b'`
	if got := EscapeSlice(in); got != want {
		t.Errorf("EscapeSlice(%q) = %q; want %q", in, got, want)
	}
}
