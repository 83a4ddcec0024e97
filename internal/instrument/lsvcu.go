// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/transport"
)

func init() {
	Register("LSSafety", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		if sim {
			return &frameExchanger{typ: "LSSafety", sim: true}, nil
		}
		raw, err := openConn(ctx, &cfg.Connection)
		if err != nil {
			return nil, err
		}
		return &frameExchanger{typ: "LSSafety", conn: transport.NewLSConn(raw)}, nil
	})
	Register("VCU", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		if sim {
			return &frameExchanger{typ: "VCU", sim: true}, nil
		}
		cc := &cfg.Connection
		conn, err := transport.DialVCU(ctx, cc.Host, cc.ConnectPort, cc.TestPort)
		if err != nil {
			return nil, err
		}
		return &frameExchanger{typ: "VCU", conn: conn}, nil
	})
	for _, typ := range []string{"LSSafety", "VCU"} {
		RegisterSchema(typ, "FrameQuery", &Schema{
			Required: []string{"instrument", "format"},
			Optional: []string{"data"},
			Example:  "instrument: VCU_1, format: 0x21, data: 0102ff",
		})
	}
}

// frameExchanger is the shared driver for DUT telemetry endpoints speaking
// the LS frame layout (LS safety boards over serial or TCP, VCUs over UDP).
// Requests and responses are hex-encoded at the plan boundary so limits can
// match on exact payloads.
type frameExchanger struct {
	typ  string
	sim  bool
	conn transport.FrameConn
}

func (d *frameExchanger) Initialize(ctx context.Context) error { return nil }
func (d *frameExchanger) Reset(ctx context.Context) error      { return nil }

// RetrySafe is true: telemetry queries are read-only on the DUT.
func (d *frameExchanger) RetrySafe() bool { return true }

func (d *frameExchanger) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *frameExchanger) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.typ, command, params); err != nil {
		return "", err
	}
	format, ok := params.Int("format")
	if !ok {
		if s, sok := params.String("format"); sok {
			n, err := parseHexWord(s)
			if err != nil {
				return "", err
			}
			format = int(n)
		} else {
			return "", errors.Wrap(ErrBadParameter, "format is not an integer")
		}
	}
	var body []byte
	if data, ok := params.String("data"); ok && data != "" {
		var err error
		body, err = hex.DecodeString(strings.TrimPrefix(strings.ToLower(data), "0x"))
		if err != nil {
			return "", errors.Wrapf(ErrBadParameter, "data %q is not hex: %v", data, err)
		}
	}

	if d.sim {
		// Echo the request payload, the healthy-device behavior for
		// status queries.
		return strings.ToUpper(hex.EncodeToString(body)), nil
	}

	if err := d.conn.Send(ctx, uint16(format), body); err != nil {
		return "", err
	}
	_, resp, err := d.conn.Recv(ctx)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(resp)), nil
}

func parseHexWord(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 || len(b) > 2 {
		return 0, errors.Wrapf(ErrBadParameter, "format %q is not a 16-bit hex value", s)
	}
	if len(b) == 1 {
		return uint16(b[0]), nil
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}
