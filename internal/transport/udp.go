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

const udpDatagramSize = 2048

// UDPConn adapts a datagram socket to the Conn byte-stream interface.
// Received datagrams are buffered internally so framed readers can re-slide
// across packet boundaries.
type UDPConn struct {
	conn *net.UDPConn
	buf  []byte // unread remainder of received datagrams
}

// DialUDP connects a UDP socket to host:port.
func DialUDP(ctx context.Context, host string, port int) (*UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "failed to resolve %s:%d: %v", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "failed to dial %s:%d: %v", host, port, err)
	}
	return &UDPConn{conn: conn}, nil
}

// Read returns buffered bytes, receiving another datagram when the buffer is
// empty.
func (u *UDPConn) Read(p []byte) (int, error) {
	if len(u.buf) == 0 {
		scratch := make([]byte, udpDatagramSize)
		n, err := u.conn.Read(scratch)
		if err != nil {
			return 0, err
		}
		u.buf = scratch[:n]
	}
	n := copy(p, u.buf)
	u.buf = u.buf[n:]
	return n, nil
}

// Write sends p as a single datagram.
func (u *UDPConn) Write(p []byte) (int, error) {
	return u.conn.Write(p)
}

// SetReadDeadline sets the deadline for future Read calls.
func (u *UDPConn) SetReadDeadline(t time.Time) error {
	return u.conn.SetReadDeadline(t)
}

// Flush drains any datagrams already queued on the socket along with the
// internal buffer, so that the next Read observes only frames sent after the
// flush. Used before each request to discard stale frames.
func (u *UDPConn) Flush() {
	u.buf = nil
	scratch := make([]byte, udpDatagramSize)
	for {
		u.conn.SetReadDeadline(time.Now())
		if _, err := u.conn.Read(scratch); err != nil {
			break
		}
	}
	u.conn.SetReadDeadline(time.Time{})
}

// Close closes the socket.
func (u *UDPConn) Close() error {
	return u.conn.Close()
}
