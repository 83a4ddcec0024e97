// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/transport"
)

func init() {
	Register("PeakCAN", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		return newPeakCAN(ctx, cfg, sim)
	})
	RegisterSchema("PeakCAN", "CANWrite", &Schema{
		Required: []string{"instrument", "id", "data"},
		Optional: []string{"extended", "fd"},
		Example:  "instrument: CAN_1, id: 0x123, data: 0102030405060708",
	})
	RegisterSchema("PeakCAN", "CANRead", &Schema{
		Required: []string{"instrument"},
		Optional: []string{"filter_id"},
		Example:  "instrument: CAN_1, filter_id: 0x7E8",
	})
	RegisterSchema("PeakCAN", "CANWriteRead", &Schema{
		Required: []string{"instrument", "id", "data"},
		Optional: []string{"extended", "fd", "filter_id"},
		Example:  "instrument: CAN_1, id: 0x7E0, data: 0201050000000000, filter_id: 0x7E8",
	})
}

// PeakCAN drives a CAN or CAN FD channel: write, filtered read, and
// write-then-read request/response exchanges. Frame payloads cross the plan
// boundary hex-encoded.
type PeakCAN struct {
	sim  bool
	conn *transport.CANConn
}

func newPeakCAN(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (*PeakCAN, error) {
	if sim {
		return &PeakCAN{sim: true}, nil
	}
	conn, err := transport.DialCAN(ctx, cfg.Connection.Channel, cfg.Connection.FD)
	if err != nil {
		return nil, err
	}
	return &PeakCAN{conn: conn}, nil
}

func (d *PeakCAN) Initialize(ctx context.Context) error { return nil }
func (d *PeakCAN) Reset(ctx context.Context) error      { return nil }

// RetrySafe is false: a reissued request frame could trigger the DUT action
// twice.
func (d *PeakCAN) RetrySafe() bool { return false }

func (d *PeakCAN) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *PeakCAN) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams("PeakCAN", command, params); err != nil {
		return "", err
	}
	switch command {
	case "CANWrite":
		f, err := frameFromParams(params)
		if err != nil {
			return "", err
		}
		if err := d.send(ctx, f); err != nil {
			return "", err
		}
		return "OK", nil
	case "CANRead":
		return d.read(ctx, params, nil)
	case "CANWriteRead":
		f, err := frameFromParams(params)
		if err != nil {
			return "", err
		}
		if err := d.send(ctx, f); err != nil {
			return "", err
		}
		return d.read(ctx, params, f)
	}
	return "", errors.Wrapf(ErrSchemaViolation, "command %q not supported by PeakCAN", command)
}

func (d *PeakCAN) send(ctx context.Context, f *transport.CANFrame) error {
	if d.sim {
		return f.Validate()
	}
	return d.conn.Send(ctx, f)
}

func (d *PeakCAN) read(ctx context.Context, params plan.Params, req *transport.CANFrame) (string, error) {
	filter := int64(-1)
	if v, ok := paramCANID(params, "filter_id"); ok {
		filter = int64(v)
	}
	if d.sim {
		// Echo the request payload, or a quiet-bus placeholder for
		// pure reads.
		if req != nil {
			return formatCANFrame(&transport.CANFrame{ID: uint32(maxInt64(filter, 0)), Data: req.Data}), nil
		}
		return formatCANFrame(&transport.CANFrame{ID: uint32(maxInt64(filter, 0)), Data: []byte{0}}), nil
	}
	f, err := d.conn.Recv(ctx, filter)
	if err != nil {
		return "", err
	}
	return formatCANFrame(f), nil
}

// frameFromParams builds a frame from the id/data/extended/fd parameters and
// validates identifier range and payload size.
func frameFromParams(params plan.Params) (*transport.CANFrame, error) {
	id, ok := paramCANID(params, "id")
	if !ok {
		return nil, errors.Wrap(ErrBadParameter, "id is not a CAN identifier")
	}
	data, _ := params.String("data")
	payload, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(data), "0x"))
	if err != nil {
		return nil, errors.Wrapf(ErrBadParameter, "data %q is not hex: %v", data, err)
	}
	f := &transport.CANFrame{ID: id, Data: payload}
	if ext, ok := params.String("extended"); ok {
		f.Extended = ext == "true" || ext == "1"
	}
	if fd, ok := params.String("fd"); ok {
		f.FD = fd == "true" || fd == "1"
	}
	if err := f.Validate(); err != nil {
		return nil, errors.Wrap(ErrBadParameter, err.Error())
	}
	return f, nil
}

// paramCANID accepts decimal or 0x-prefixed hex identifiers.
func paramCANID(params plan.Params, key string) (uint32, bool) {
	if n, ok := params.Int(key); ok && n >= 0 {
		return uint32(n), true
	}
	s, ok := params.String(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// formatCANFrame renders "ID:DATA" with both sides hex, e.g. "7E8:02410500".
func formatCANFrame(f *transport.CANFrame) string {
	return strings.ToUpper(strconv.FormatUint(uint64(f.ID), 16)) + ":" +
		strings.ToUpper(hex.EncodeToString(f.Data))
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
