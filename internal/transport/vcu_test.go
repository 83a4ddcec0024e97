// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sprigga/webpdtool/errors"
)

// fakeVCU is a minimal UDP device: it echoes the handshake word on the
// connect port and answers every frame on the test port with a fixed reply.
type fakeVCU struct {
	connect *net.UDPConn
	test    *net.UDPConn
	reply   []byte
}

func startFakeVCU(t *testing.T, echoHandshake bool, reply []byte) *fakeVCU {
	t.Helper()
	mk := func() *net.UDPConn {
		c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	f := &fakeVCU{connect: mk(), test: mk(), reply: reply}
	t.Cleanup(func() {
		f.connect.Close()
		f.test.Close()
	})

	go func() {
		buf := make([]byte, 64)
		for {
			n, addr, err := f.connect.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if echoHandshake && string(buf[:n]) == "connect" {
				f.connect.WriteToUDP(buf[:n], addr)
			}
		}
	}()
	go func() {
		buf := make([]byte, 2048)
		for {
			_, addr, err := f.test.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if f.reply != nil {
				f.test.WriteToUDP(f.reply, addr)
			}
		}
	}()
	return f
}

func (f *fakeVCU) ports() (connect, test int) {
	return f.connect.LocalAddr().(*net.UDPAddr).Port, f.test.LocalAddr().(*net.UDPAddr).Port
}

func TestVCUHandshakeAndExchange(t *testing.T) {
	reply, err := EncodeLSFrame(0x0042, []byte{0xAB})
	if err != nil {
		t.Fatal(err)
	}
	f := startFakeVCU(t, true, reply)
	cp, tp := f.ports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	vc, err := DialVCU(ctx, "127.0.0.1", cp, tp)
	if err != nil {
		t.Fatalf("DialVCU() failed: %v", err)
	}
	defer vc.Close()

	if err := vc.Send(ctx, 1, []byte{1}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	defer rcancel()
	format, body, err := vc.Recv(rctx)
	if err != nil {
		t.Fatalf("Recv() failed: %v", err)
	}
	if format != 0x0042 || len(body) != 1 || body[0] != 0xAB {
		t.Errorf("Recv() = (%#04x, %v); want (0x0042, [0xAB])", format, body)
	}
}

func TestVCUHandshakeFailure(t *testing.T) {
	f := startFakeVCU(t, false, nil)
	cp, tp := f.ports()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := DialVCU(ctx, "127.0.0.1", cp, tp); !errors.Is(err, ErrConnect) {
		t.Errorf("DialVCU() = %v; want ErrConnect", err)
	}
}
