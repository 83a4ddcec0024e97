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

// LS safety telemetry wire frame, little-endian:
//
//	[sync:u16 = 0xCAFE][length:u16][crc:u32][msg_format:u16][reserved:u16][body...]
//
// length covers the whole frame. CRC32 (ISO-HDLC) covers bytes from offset 8
// onward, i.e. msg_format + reserved + body.
const (
	lsSync    = 0xCAFE
	lsHeader  = 12
	lsCRCFrom = 8
	lsMaxBody = 0xFFFF - lsHeader
)

// LSConn frames messages for the LS safety controller over an underlying
// byte stream.
type LSConn struct {
	c Conn
}

// NewLSConn wraps c in the LS framing protocol.
func NewLSConn(c Conn) *LSConn {
	return &LSConn{c: c}
}

// EncodeLSFrame returns the wire encoding of one LS frame.
func EncodeLSFrame(msgFormat uint16, body []byte) ([]byte, error) {
	if len(body) > lsMaxBody {
		return nil, errors.Errorf("LS body too large: %d bytes", len(body))
	}
	buf := make([]byte, lsHeader+len(body))
	binary.LittleEndian.PutUint16(buf[0:], lsSync)
	binary.LittleEndian.PutUint16(buf[2:], uint16(lsHeader+len(body)))
	binary.LittleEndian.PutUint16(buf[8:], msgFormat)
	// buf[10:12] reserved, zero.
	copy(buf[lsHeader:], body)
	binary.LittleEndian.PutUint32(buf[4:], crc.ISOHDLC32(buf[lsCRCFrom:]))
	return buf, nil
}

// decodeLSHeader is the detector callback shared with the VCU transport,
// which uses the identical header shape over UDP.
func decodeLSHeader(hdr []byte) (int, bool) {
	if binary.LittleEndian.Uint16(hdr) != lsSync {
		return 0, false
	}
	n := int(binary.LittleEndian.Uint16(hdr[2:]))
	if n < lsHeader {
		return 0, false
	}
	return n, true
}

// verifyLSFrame checks the CRC of a detected frame and returns its format
// word and body.
func verifyLSFrame(hdr, body []byte) (uint16, []byte, error) {
	want := binary.LittleEndian.Uint32(hdr[4:])
	covered := append(append([]byte(nil), hdr[lsCRCFrom:]...), body...)
	if sum := crc.ISOHDLC32(covered); sum != want {
		return 0, nil, errors.Wrapf(ErrCRC, "LS CRC mismatch: got %#08x, want %#08x", sum, want)
	}
	return binary.LittleEndian.Uint16(hdr[8:]), body, nil
}

// Send encodes and writes one frame.
func (lc *LSConn) Send(ctx context.Context, msgFormat uint16, body []byte) error {
	buf, err := EncodeLSFrame(msgFormat, body)
	if err != nil {
		return err
	}
	if _, err := lc.c.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write LS frame")
	}
	return nil
}

// Recv reads one frame and verifies its CRC.
func (lc *LSConn) Recv(ctx context.Context) (uint16, []byte, error) {
	hdr, body, err := detectFrame(ctx, lc.c, frameSpec{
		headerLen:   lsHeader,
		checkHeader: decodeLSHeader,
	})
	if err != nil {
		return 0, nil, err
	}
	return verifyLSFrame(hdr, body)
}

// Close closes the underlying connection.
func (lc *LSConn) Close() error {
	return lc.c.Close()
}
