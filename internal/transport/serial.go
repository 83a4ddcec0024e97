// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"time"

	"go.bug.st/serial"

	"github.com/sprigga/webpdtool/errors"
)

// SerialConfig describes a serial port.
type SerialConfig struct {
	Port     string        // e.g. /dev/ttyUSB0 or COM3
	Baud     int           // e.g. 115200
	Parity   string        // "none", "odd", "even"
	StopBits int           // 1 or 2
	Timeout  time.Duration // default read timeout when no deadline is set
}

// SerialPort adapts a go.bug.st/serial port to the Conn interface.
// The library exposes a read timeout rather than absolute deadlines, so
// SetReadDeadline translates.
type SerialPort struct {
	port    serial.Port
	timeout time.Duration
}

// OpenSerial opens the serial port described by cfg.
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	mode := &serial.Mode{BaudRate: cfg.Baud, DataBits: 8}
	switch cfg.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, errors.Wrapf(ErrOpen, "unknown parity %q", cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, errors.Wrapf(ErrOpen, "unknown stop bits %d", cfg.StopBits)
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "failed to open %s: %v", cfg.Port, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	port.SetReadTimeout(timeout)
	return &SerialPort{port: port, timeout: timeout}, nil
}

// Read reads available bytes. The library signals an expired read timeout by
// returning zero bytes with a nil error; map that to ErrTimeout so framed
// readers fail deterministically.
func (s *SerialPort) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errors.Wrap(ErrTimeout, "serial read timed out")
	}
	return n, nil
}

// Write writes p to the port.
func (s *SerialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadDeadline translates an absolute deadline to the port's relative
// read timeout.
func (s *SerialPort) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(s.timeout)
	}
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

// Flush discards unread input, e.g. boot chatter on a DUT console.
func (s *SerialPort) Flush() error {
	return s.port.ResetInputBuffer()
}

// Close closes the port.
func (s *SerialPort) Close() error {
	return s.port.Close()
}
