// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sprigga/webpdtool/errors"
)

func TestChassisRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	src := NewChassisConn(a)
	dst := NewChassisConn(b)

	const msgType = 0x0102
	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	go func() {
		src.Send(context.Background(), msgType, body)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gotType, gotBody, err := dst.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() failed: %v", err)
	}
	if gotType != msgType {
		t.Errorf("Recv() msgType = %#04x; want %#04x", gotType, msgType)
	}
	if diff := cmp.Diff(gotBody, body); diff != "" {
		t.Errorf("Recv() body mismatch (-got +want):\n%s", diff)
	}
}

func TestChassisCRCError(t *testing.T) {
	frame, err := EncodeChassisFrame(1, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	// Flip one bit in the body.
	frame[9] ^= 0x01

	a, b := Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		a.Write(frame)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := NewChassisConn(b).Recv(ctx); !errors.Is(err, ErrCRC) {
		t.Errorf("Recv() = %v; want ErrCRC", err)
	}
}

func TestChassisSyncScan(t *testing.T) {
	frame, err := EncodeChassisFrame(7, []byte("ok"))
	if err != nil {
		t.Fatal(err)
	}
	// Prepend line noise; the detector must slide past it.
	noisy := append([]byte{0x00, 0xA5, 0xFF, 0x13, 0x37}, frame...)

	a, b := Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		a.Write(noisy)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gotType, gotBody, err := NewChassisConn(b).Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() failed: %v", err)
	}
	if gotType != 7 || string(gotBody) != "ok" {
		t.Errorf("Recv() = (%d, %q); want (7, \"ok\")", gotType, gotBody)
	}
}

func TestChassisRecvTimeout(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := NewChassisConn(b).Recv(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("Recv() = %v; want ErrTimeout", err)
	}
}

func TestChassisTruncated(t *testing.T) {
	frame, err := EncodeChassisFrame(1, []byte{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}

	a, b := Pipe()
	go func() {
		// Deliver only part of the declared frame, then close.
		a.Write(frame[:chassisHeader+2])
		a.Close()
	}()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := NewChassisConn(b).Recv(ctx); !errors.Is(err, ErrTruncated) {
		t.Errorf("Recv() = %v; want ErrTruncated", err)
	}
}
