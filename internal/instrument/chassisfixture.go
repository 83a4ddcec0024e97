// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/transport"
)

// Chassis fixture message types.
const (
	chassisMsgRotate  = 0x0001
	chassisMsgStop    = 0x0002
	chassisMsgDoor    = 0x0003
	chassisMsgEncoder = 0x0004
	chassisMsgRelay   = 0x0005
)

// Rotation directions on the wire.
const (
	rotateCW  = 0x01
	rotateCCW = 0x02
)

func init() {
	Register("Chassis", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		return newChassis(ctx, cfg, sim)
	})
	RegisterSchema("Chassis", "ChassisRotate", &Schema{
		Required: []string{"instrument", "direction", "duration_ms"},
		Example:  "instrument: CHASSIS_1, direction: CW, duration_ms: 3000",
	})
	RegisterSchema("Chassis", "DoorStatus", &Schema{
		Required: []string{"instrument"},
		Example:  "instrument: CHASSIS_1",
	})
	RegisterSchema("Chassis", "EncoderRead", &Schema{
		Required: []string{"instrument"},
		Example:  "instrument: CHASSIS_1",
	})
	RegisterSchema("Chassis", "Relay", &Schema{
		Required: []string{"instrument", "channel", "state"},
		Example:  "instrument: CHASSIS_1, channel: 2, state: on",
	})
}

// Chassis drives the turntable fixture: rotation, cliff-sensor doors,
// encoders and the relay bank, all over the framed chassis protocol.
type Chassis struct {
	sim  bool
	conn transport.FrameConn
}

func newChassis(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (*Chassis, error) {
	if sim {
		return &Chassis{sim: true}, nil
	}
	raw, err := openConn(ctx, &cfg.Connection)
	if err != nil {
		return nil, err
	}
	return &Chassis{conn: transport.NewChassisConn(raw)}, nil
}

func (d *Chassis) Initialize(ctx context.Context) error {
	// Stopping rotation is the fixture's only safe known state.
	_, err := d.exchange(ctx, chassisMsgStop, nil, "OK")
	return err
}

func (d *Chassis) Reset(ctx context.Context) error {
	_, err := d.exchange(ctx, chassisMsgStop, nil, "OK")
	return err
}

// RetrySafe is false: reissuing a rotate after an ambiguous failure could
// double the travel.
func (d *Chassis) RetrySafe() bool { return false }

func (d *Chassis) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *Chassis) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams("Chassis", command, params); err != nil {
		return "", err
	}
	switch command {
	case "ChassisRotate":
		return d.rotate(ctx, params)
	case "DoorStatus":
		body, err := d.exchange(ctx, chassisMsgDoor, nil, "\x00")
		if err != nil {
			return "", err
		}
		if len(body) > 0 && body[0] != 0 {
			return "OPEN", nil
		}
		return "CLOSED", nil
	case "EncoderRead":
		body, err := d.exchange(ctx, chassisMsgEncoder, nil, "\x00\x00\x00\x00")
		if err != nil {
			return "", err
		}
		if len(body) < 4 {
			return "", errors.Wrapf(transport.ErrTruncated, "encoder response is %d bytes", len(body))
		}
		return strconv.FormatUint(uint64(binary.BigEndian.Uint32(body)), 10), nil
	case "Relay":
		return d.relay(ctx, params)
	}
	return "", errors.Wrapf(ErrSchemaViolation, "command %q not supported by Chassis", command)
}

func (d *Chassis) rotate(ctx context.Context, params plan.Params) (string, error) {
	dir, _ := params.String("direction")
	var dirByte byte
	switch strings.ToUpper(dir) {
	case "CW":
		dirByte = rotateCW
	case "CCW":
		dirByte = rotateCCW
	default:
		return "", errors.Wrapf(ErrBadParameter, "direction %q must be CW or CCW", dir)
	}
	dur, ok := params.Int("duration_ms")
	if !ok || dur < 0 {
		return "", errors.Wrap(ErrBadParameter, "duration_ms must be a non-negative integer")
	}
	body := make([]byte, 5)
	body[0] = dirByte
	binary.BigEndian.PutUint32(body[1:], uint32(dur))
	if _, err := d.exchange(ctx, chassisMsgRotate, body, "\x00"); err != nil {
		return "", err
	}
	return "OK", nil
}

func (d *Chassis) relay(ctx context.Context, params plan.Params) (string, error) {
	ch, ok := params.Int("channel")
	if !ok {
		return "", errors.Wrap(ErrBadParameter, "channel is not an integer")
	}
	state, _ := params.String("state")
	var stateByte byte
	switch strings.ToLower(state) {
	case "on", "close", "1":
		stateByte = 1
	case "off", "open", "0":
		stateByte = 0
	default:
		return "", errors.Wrapf(ErrBadParameter, "state %q must be on or off", state)
	}
	if _, err := d.exchange(ctx, chassisMsgRelay, []byte{byte(ch), stateByte}, "\x00"); err != nil {
		return "", err
	}
	return "OK", nil
}

// exchange sends one request frame and waits for the matching response type.
// The fixture acknowledges every request; a nonzero first status byte is a
// fixture-level failure.
func (d *Chassis) exchange(ctx context.Context, msgType uint16, body []byte, simResp string) ([]byte, error) {
	if d.sim {
		return []byte(simResp), nil
	}
	if err := d.conn.Send(ctx, msgType, body); err != nil {
		return nil, err
	}
	respType, resp, err := d.conn.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if respType != msgType {
		return nil, errors.Wrapf(transport.ErrSyncLost, "response type %#04x for request %#04x", respType, msgType)
	}
	if msgType == chassisMsgRotate || msgType == chassisMsgRelay || msgType == chassisMsgStop {
		if len(resp) > 0 && resp[0] != 0 {
			return nil, &DomainError{Msg: fmt.Sprintf("fixture rejected request %#04x with status %d", msgType, resp[0])}
		}
	}
	return resp, nil
}
