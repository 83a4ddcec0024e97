// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"
	"encoding/binary"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/crc"
)

// Chassis fixture wire frame, big-endian:
//
//	[sync_word:u32 = 0xA5FF00CC][length:u16][msg_type:u16][body...][crc16_kermit:u16]
//
// length covers header + body + footer. CRC16-Kermit covers header + body.
const (
	chassisSync     = 0xA5FF00CC
	chassisHeader   = 8  // sync + length + msg_type
	chassisOverhead = 10 // header + 2-byte CRC footer
	chassisMaxBody  = 0xFFFF - chassisOverhead
)

// ChassisConn frames messages for the chassis fixture (turntable,
// cliff-sensor doors, encoders) over an underlying byte stream.
type ChassisConn struct {
	c Conn
}

// NewChassisConn wraps c in the chassis framing protocol.
func NewChassisConn(c Conn) *ChassisConn {
	return &ChassisConn{c: c}
}

// EncodeChassisFrame returns the wire encoding of one chassis frame.
func EncodeChassisFrame(msgType uint16, body []byte) ([]byte, error) {
	if len(body) > chassisMaxBody {
		return nil, errors.Errorf("chassis body too large: %d bytes", len(body))
	}
	buf := make([]byte, chassisOverhead+len(body))
	binary.BigEndian.PutUint32(buf[0:], chassisSync)
	binary.BigEndian.PutUint16(buf[4:], uint16(chassisOverhead+len(body)))
	binary.BigEndian.PutUint16(buf[6:], msgType)
	copy(buf[chassisHeader:], body)
	binary.BigEndian.PutUint16(buf[len(buf)-2:], crc.Kermit16(buf[:len(buf)-2]))
	return buf, nil
}

// Send encodes and writes one frame.
func (cc *ChassisConn) Send(ctx context.Context, msgType uint16, body []byte) error {
	buf, err := EncodeChassisFrame(msgType, body)
	if err != nil {
		return err
	}
	if _, err := cc.c.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write chassis frame")
	}
	return nil
}

// Recv reads one frame using the three-step sliding-window detector and
// verifies its CRC.
func (cc *ChassisConn) Recv(ctx context.Context) (uint16, []byte, error) {
	hdr, rest, err := detectFrame(ctx, cc.c, frameSpec{
		headerLen: chassisHeader,
		checkHeader: func(hdr []byte) (int, bool) {
			if binary.BigEndian.Uint32(hdr) != chassisSync {
				return 0, false
			}
			n := int(binary.BigEndian.Uint16(hdr[4:]))
			if n < chassisOverhead {
				return 0, false
			}
			return n, true
		},
	})
	if err != nil {
		return 0, nil, err
	}

	body := rest[:len(rest)-2]
	want := binary.BigEndian.Uint16(rest[len(rest)-2:])
	sum := crc.Kermit16(append(append([]byte(nil), hdr...), body...))
	if sum != want {
		return 0, nil, errors.Wrapf(ErrCRC, "chassis CRC mismatch: got %#04x, want %#04x", sum, want)
	}
	return binary.BigEndian.Uint16(hdr[6:]), body, nil
}

// Close closes the underlying connection.
func (cc *ChassisConn) Close() error {
	return cc.c.Close()
}
