// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sprigga/webpdtool/errors"
)

// TCPConn is a stream socket to an instrument (SCPI over raw sockets, DUT
// consoles, etc.).
type TCPConn struct {
	net.Conn
}

// DialTCP connects to host:port, honoring ctx's deadline for the dial.
func DialTCP(ctx context.Context, host string, port int, timeout time.Duration) (*TCPConn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "failed to dial %s:%d: %v", host, port, err)
	}
	return &TCPConn{Conn: conn}, nil
}

// ReadLine reads bytes until a newline or the ctx deadline, returning the
// line without its trailing CR/LF. Most SCPI instruments terminate responses
// with a newline.
func ReadLine(ctx context.Context, c Conn) (string, error) {
	if err := applyDeadline(ctx, c); err != nil {
		return "", errors.Wrap(err, "failed to set read deadline")
	}
	var line []byte
	buf := make([]byte, 1)
	for {
		if _, err := c.Read(buf); err != nil {
			return "", mapReadError(err)
		}
		if buf[0] == '\n' {
			break
		}
		line = append(line, buf[0])
	}
	for len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return string(line), nil
}
