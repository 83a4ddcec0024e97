// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/transport"
)

const defaultConnTimeout = 5 * time.Second

func connTimeout(cc *config.ConnectionConfig) time.Duration {
	if cc.TimeoutMS > 0 {
		return time.Duration(cc.TimeoutMS) * time.Millisecond
	}
	return defaultConnTimeout
}

// visaSocketRE matches TCPIP socket resources, e.g.
// "TCPIP0::192.168.0.5::5025::SOCKET". Other VISA resource classes need a
// vendor library and are not supported.
var visaSocketRE = regexp.MustCompile(`^TCPIP\d*::([^:]+)::(\d+)::SOCKET$`)

// openConn opens a raw byte transport for the given connection variant.
// Framed and CAN variants have their own dialers; this covers the byte-stream
// families SCPI drivers sit on.
func openConn(ctx context.Context, cc *config.ConnectionConfig) (transport.Conn, error) {
	switch cc.Type {
	case config.ConnSerial:
		return transport.OpenSerial(transport.SerialConfig{
			Port:     cc.Device,
			Baud:     cc.Baud,
			Parity:   cc.Parity,
			StopBits: cc.StopBits,
			Timeout:  connTimeout(cc),
		})
	case config.ConnTCP:
		return transport.DialTCP(ctx, cc.Host, cc.Port, connTimeout(cc))
	case config.ConnVISA:
		m := visaSocketRE.FindStringSubmatch(cc.Resource)
		if m == nil {
			return nil, errors.Wrapf(transport.ErrOpen, "unsupported VISA resource %q (only TCPIP::host::port::SOCKET)", cc.Resource)
		}
		port, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, errors.Wrapf(transport.ErrOpen, "bad VISA port in %q", cc.Resource)
		}
		return transport.DialTCP(ctx, m[1], port, connTimeout(cc))
	}
	return nil, errors.Wrapf(transport.ErrOpen, "connection type %q is not a byte-stream transport", cc.Type)
}

// scpiClient issues newline-terminated SCPI commands over a byte stream.
type scpiClient struct {
	conn transport.Conn
}

func (c *scpiClient) send(ctx context.Context, cmd string) error {
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return errors.Wrapf(err, "failed to send %q", cmd)
	}
	return nil
}

func (c *scpiClient) query(ctx context.Context, cmd string) (string, error) {
	if err := c.send(ctx, cmd); err != nil {
		return "", err
	}
	resp, err := transport.ReadLine(ctx, c.conn)
	if err != nil {
		return "", errors.Wrapf(err, "no response to %q", cmd)
	}
	return resp, nil
}

func (c *scpiClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// scpiDriver is the common base for SCPI instrument families: an optional
// client (nil in simulation mode) plus the model name for error messages.
type scpiDriver struct {
	model string
	sim   bool
	cli   *scpiClient
}

func newSCPIDriver(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (scpiDriver, error) {
	d := scpiDriver{model: cfg.Type, sim: sim}
	if sim {
		return d, nil
	}
	conn, err := openConn(ctx, &cfg.Connection)
	if err != nil {
		return scpiDriver{}, err
	}
	d.cli = &scpiClient{conn: conn}
	return d, nil
}

func (d *scpiDriver) send(ctx context.Context, cmd string) error {
	if d.sim {
		return nil
	}
	return d.cli.send(ctx, cmd)
}

func (d *scpiDriver) query(ctx context.Context, cmd string, simValue func() string) (string, error) {
	if d.sim {
		return simValue(), nil
	}
	return d.cli.query(ctx, cmd)
}

func (d *scpiDriver) Close() error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Close()
}
