// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package transport provides typed, framed, CRC-validated message transport
// atop raw byte streams (serial), datagram sockets (UDP), stream sockets
// (TCP), CAN interfaces, and SSH-exec.
//
// Raw connections implement Conn; framed fixture protocols (chassis, LS
// safety, VCU) are layered on top and implement FrameConn. All reads honor
// the caller's context deadline.
package transport

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sprigga/webpdtool/errors"
)

// Conn is a byte-stream connection with deadline support. net.Conn
// implementations satisfy it directly; serial ports are adapted.
type Conn interface {
	io.ReadWriteCloser

	// SetReadDeadline sets the deadline for future Read calls.
	// A zero value means no deadline.
	SetReadDeadline(t time.Time) error
}

// FrameConn is a framed message transport. Implementations validate CRCs on
// receive and report framing failures as the typed errors of this package.
type FrameConn interface {
	// Send encodes and writes one frame.
	Send(ctx context.Context, msgType uint16, body []byte) error
	// Recv reads one frame, honoring ctx's deadline.
	Recv(ctx context.Context) (msgType uint16, body []byte, err error)
	// Close closes the underlying connection.
	Close() error
}

// applyDeadline sets c's read deadline from ctx. If ctx has no deadline the
// read deadline is cleared.
func applyDeadline(ctx context.Context, c Conn) error {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Time{}
	}
	return c.SetReadDeadline(dl)
}

// readFull reads exactly len(buf) bytes from c, mapping timeouts and EOF to
// this package's typed errors.
func readFull(ctx context.Context, c Conn, buf []byte) error {
	if err := applyDeadline(ctx, c); err != nil {
		return errors.Wrap(err, "failed to set read deadline")
	}
	if _, err := io.ReadFull(c, buf); err != nil {
		return mapReadError(err)
	}
	return nil
}

func mapReadError(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errors.Wrap(ErrTimeout, "read deadline exceeded")
	}
	switch err {
	case io.EOF, io.ErrClosedPipe, io.ErrUnexpectedEOF:
		return errors.Wrap(ErrClosed, "connection closed during read")
	}
	return err
}
