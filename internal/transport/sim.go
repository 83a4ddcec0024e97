// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import "net"

// Pipe returns a synchronous in-memory connection pair. Tests and simulated
// fixtures use it to stand in for serial or TCP links; net.Pipe supports
// read deadlines, so framed readers behave exactly as they do on hardware.
func Pipe() (Conn, Conn) {
	a, b := net.Pipe()
	return a, b
}
