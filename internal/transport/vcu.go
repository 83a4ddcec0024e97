// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/testingutil"
)

// VCU connection parameters. The device exposes two UDP endpoints: a connect
// port used only for the handshake and a test port carrying LS-shaped frames.
const (
	vcuHandshakeWord     = "connect"
	vcuHandshakeAttempts = 15
	vcuHandshakeInterval = 100 * time.Millisecond
	vcuHandshakeTimeout  = 200 * time.Millisecond
)

// VCUConn exchanges LS-shaped frames with the vehicle control unit over UDP.
type VCUConn struct {
	connect *UDPConn
	test    *UDPConn
}

// DialVCU performs the VCU handshake against the connect endpoint and opens
// the test endpoint. The handshake sends the literal string "connect" and
// expects an exact echo; it is retried up to 15 times at 100 ms intervals
// before failing with ErrConnect.
func DialVCU(ctx context.Context, host string, connectPort, testPort int) (*VCUConn, error) {
	cc, err := DialUDP(ctx, host, connectPort)
	if err != nil {
		return nil, err
	}

	ok := false
	for i := 0; i < vcuHandshakeAttempts; i++ {
		if i > 0 {
			if err := testingutil.Sleep(ctx, vcuHandshakeInterval); err != nil {
				cc.Close()
				return nil, err
			}
		}
		if echoed, err := vcuHandshake(ctx, cc); err != nil {
			cc.Close()
			return nil, err
		} else if echoed {
			ok = true
			break
		}
	}
	if !ok {
		cc.Close()
		return nil, errors.Wrapf(ErrConnect, "no handshake echo from %s:%d after %d attempts",
			host, connectPort, vcuHandshakeAttempts)
	}

	tc, err := DialUDP(ctx, host, testPort)
	if err != nil {
		cc.Close()
		return nil, err
	}
	return &VCUConn{connect: cc, test: tc}, nil
}

// vcuHandshake performs a single handshake attempt and reports whether the
// device echoed the handshake word.
func vcuHandshake(ctx context.Context, c *UDPConn) (bool, error) {
	c.Flush()
	if _, err := c.Write([]byte(vcuHandshakeWord)); err != nil {
		return false, errors.Wrap(err, "failed to send handshake")
	}

	hctx, cancel := context.WithTimeout(ctx, vcuHandshakeTimeout)
	defer cancel()
	if err := applyDeadline(hctx, c); err != nil {
		return false, err
	}
	buf := make([]byte, len(vcuHandshakeWord))
	n, err := c.Read(buf)
	if err != nil {
		if errors.Is(mapReadError(err), ErrTimeout) {
			return false, nil // no echo this attempt
		}
		return false, mapReadError(err)
	}
	return bytes.Equal(buf[:n], []byte(vcuHandshakeWord)), nil
}

// Send flushes stale frames off the test socket, then encodes and writes one
// frame.
func (v *VCUConn) Send(ctx context.Context, msgFormat uint16, body []byte) error {
	v.test.Flush()
	buf, err := EncodeLSFrame(msgFormat, body)
	if err != nil {
		return err
	}
	if _, err := v.test.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write VCU frame")
	}
	return nil
}

// Recv reads one frame from the test endpoint. Detection is structurally
// identical to the LS byte-stream case; the UDPConn buffers datagrams so the
// detector can re-slide across packet boundaries.
func (v *VCUConn) Recv(ctx context.Context) (uint16, []byte, error) {
	hdr, body, err := detectFrame(ctx, v.test, frameSpec{
		headerLen:   lsHeader,
		checkHeader: decodeLSHeader,
	})
	if err != nil {
		return 0, nil, err
	}
	return verifyLSFrame(hdr, body)
}

// Close closes both endpoints.
func (v *VCUConn) Close() error {
	err := v.connect.Close()
	if terr := v.test.Close(); err == nil {
		err = terr
	}
	return err
}
