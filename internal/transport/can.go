// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"golang.org/x/sys/unix"

	"github.com/sprigga/webpdtool/errors"
)

// CANFrame is one classic or FD frame.
type CANFrame struct {
	ID       uint32
	Extended bool // 29-bit identifier
	FD       bool
	Data     []byte
}

// Validate checks identifier range and payload size.
func (f *CANFrame) Validate() error {
	if f.Extended {
		if f.ID > 0x1FFFFFFF {
			return errors.Errorf("extended CAN ID %#x exceeds 29 bits", f.ID)
		}
	} else if f.ID > 0x7FF {
		return errors.Errorf("standard CAN ID %#x exceeds 11 bits", f.ID)
	}
	max := 8
	if f.FD {
		max = 64
	}
	if len(f.Data) > max {
		return errors.Errorf("CAN payload %d bytes exceeds %d", len(f.Data), max)
	}
	return nil
}

// CANConn is a connection to a SocketCAN interface. Classic frames go through
// go.einride.tech/can; FD frames use a raw CAN_RAW socket with
// CAN_RAW_FD_FRAMES enabled, which the library does not expose.
type CANConn struct {
	conn net.Conn // classic path
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver

	fdSock int // FD path; -1 when fd mode is off
}

// DialCAN opens the named SocketCAN channel (e.g. "can0"). The interface
// bitrate is configured out of band (ip link); fd selects CAN FD framing.
func DialCAN(ctx context.Context, channel string, fd bool) (*CANConn, error) {
	if fd {
		sock, err := openFDSocket(channel)
		if err != nil {
			return nil, err
		}
		return &CANConn{fdSock: sock}, nil
	}

	conn, err := socketcan.DialContext(ctx, "can", channel)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "failed to open CAN channel %s: %v", channel, err)
	}
	return &CANConn{
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		rx:     socketcan.NewReceiver(conn),
		fdSock: -1,
	}, nil
}

func openFDSocket(channel string) (int, error) {
	ifi, err := net.InterfaceByName(channel)
	if err != nil {
		return 0, errors.Wrapf(ErrOpen, "no CAN interface %s: %v", channel, err)
	}
	sock, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return 0, errors.Wrapf(ErrOpen, "failed to create CAN socket: %v", err)
	}
	if err := unix.SetsockoptInt(sock, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		unix.Close(sock)
		return 0, errors.Wrapf(ErrOpen, "failed to enable CAN FD frames: %v", err)
	}
	if err := unix.Bind(sock, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(sock)
		return 0, errors.Wrapf(ErrOpen, "failed to bind %s: %v", channel, err)
	}
	return sock, nil
}

// Send writes one frame.
func (c *CANConn) Send(ctx context.Context, f *CANFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if c.fdSock >= 0 {
		return c.sendFD(f)
	}

	var data can.Data
	copy(data[:], f.Data)
	return c.tx.TransmitFrame(ctx, can.Frame{
		ID:         f.ID,
		Length:     uint8(len(f.Data)),
		Data:       data,
		IsExtended: f.Extended,
	})
}

// Recv reads frames until one passes the optional ID filter or ctx's
// deadline expires. filter < 0 accepts any ID.
func (c *CANConn) Recv(ctx context.Context, filter int64) (*CANFrame, error) {
	for {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ErrTimeout, "CAN receive interrupted")
		}
		f, err := c.recvOne(ctx)
		if err != nil {
			return nil, err
		}
		if filter < 0 || uint32(filter) == f.ID {
			return f, nil
		}
	}
}

func (c *CANConn) recvOne(ctx context.Context) (*CANFrame, error) {
	if c.fdSock >= 0 {
		return c.recvFD(ctx)
	}

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	}
	if !c.rx.Receive() {
		if err := c.rx.Err(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, errors.Wrap(ErrTimeout, "CAN read deadline exceeded")
			}
			return nil, errors.Wrap(err, "CAN receive failed")
		}
		return nil, errors.Wrap(ErrClosed, "CAN channel closed")
	}
	f := c.rx.Frame()
	return &CANFrame{
		ID:       f.ID,
		Extended: f.IsExtended,
		Data:     append([]byte(nil), f.Data[:f.Length]...),
	}, nil
}

// canfd_frame layout: can_id u32, len u8, flags u8, res0 u8, res1 u8, data[64].
const canFDFrameSize = 72

const canEFFFlag = 0x80000000 // extended frame format bit in can_id

func (c *CANConn) sendFD(f *CANFrame) error {
	buf := make([]byte, canFDFrameSize)
	id := f.ID
	if f.Extended {
		id |= canEFFFlag
	}
	unixPutUint32(buf[0:], id)
	buf[4] = uint8(len(f.Data))
	copy(buf[8:], f.Data)
	if _, err := unix.Write(c.fdSock, buf); err != nil {
		return errors.Wrap(err, "CAN FD write failed")
	}
	return nil
}

func (c *CANConn) recvFD(ctx context.Context) (*CANFrame, error) {
	tv := unix.NsecToTimeval(int64(time.Second))
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d <= 0 {
			return nil, errors.Wrap(ErrTimeout, "CAN read deadline exceeded")
		}
		tv = unix.NsecToTimeval(int64(d))
	}
	if err := unix.SetsockoptTimeval(c.fdSock, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, errors.Wrap(err, "failed to set CAN receive timeout")
	}

	buf := make([]byte, canFDFrameSize)
	n, err := unix.Read(c.fdSock, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, errors.Wrap(ErrTimeout, "CAN read deadline exceeded")
		}
		return nil, errors.Wrap(err, "CAN FD read failed")
	}
	if n < 8 {
		return nil, errors.Wrapf(ErrTruncated, "short CAN frame: %d bytes", n)
	}
	id := unixUint32(buf[0:])
	return &CANFrame{
		ID:       id &^ canEFFFlag,
		Extended: id&canEFFFlag != 0,
		FD:       true,
		Data:     append([]byte(nil), buf[8:8+int(buf[4])]...),
	}, nil
}

// Close closes the channel.
func (c *CANConn) Close() error {
	if c.fdSock >= 0 {
		return unix.Close(c.fdSock)
	}
	return c.conn.Close()
}

// Host byte order accessors for can_id (SocketCAN uses native endianness;
// amd64/arm64 test stations are little-endian).
func unixPutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func unixUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
