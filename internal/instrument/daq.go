// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
)

// daqCurrentChannels lists the channels wired for current measurement per
// model. Multiplexer cards route current only through dedicated shunt
// channels; asking for current elsewhere is a hardware miswire, not a
// recoverable condition.
var daqCurrentChannels = map[string]map[int]bool{
	"DAQ973A": {121: true, 122: true},
	"34970A":  {121: true, 122: true, 221: true, 222: true, 321: true, 322: true},
	"DAQ6510": {121: true, 122: true, 221: true, 222: true},
	"APS7050": {1: true},
}

func init() {
	for model := range daqCurrentChannels {
		m := model
		Register(m, func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
			return newDAQ(ctx, cfg, sim)
		})
		RegisterSchema(m, "VoltRead", &Schema{
			Required: []string{"instrument"},
			Optional: []string{"channel", "channels", "range"},
			Example:  "instrument: DAQ973A_1, channels: [101, 102]",
		})
		RegisterSchema(m, "CurrRead", &Schema{
			Required: []string{"instrument"},
			Optional: []string{"channel", "channels", "range"},
			Example:  "instrument: DAQ973A_1, channel: 121",
		})
		RegisterSchema(m, "OpenChannel", &Schema{
			Required: []string{"instrument"},
			Optional: []string{"channel", "channels"},
			Example:  "instrument: DAQ973A_1, channels: [101]",
		})
		RegisterSchema(m, "CloseChannel", &Schema{
			Required: []string{"instrument"},
			Optional: []string{"channel", "channels"},
			Example:  "instrument: DAQ973A_1, channels: [101]",
		})
	}
}

// DAQ drives the channel-switched DMM/DAQ families.
type DAQ struct {
	scpiDriver
	currentCh map[int]bool
}

func newDAQ(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (*DAQ, error) {
	base, err := newSCPIDriver(ctx, cfg, sim)
	if err != nil {
		return nil, err
	}
	return &DAQ{scpiDriver: base, currentCh: daqCurrentChannels[cfg.Type]}, nil
}

func (d *DAQ) Initialize(ctx context.Context) error {
	if err := d.send(ctx, "*RST"); err != nil {
		return err
	}
	return d.send(ctx, "*CLS")
}

func (d *DAQ) Reset(ctx context.Context) error {
	return d.send(ctx, "ROUT:OPEN:ALL")
}

// RetrySafe is true: reads and route commands are idempotent.
func (d *DAQ) RetrySafe() bool { return true }

func (d *DAQ) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.model, command, params); err != nil {
		return "", err
	}
	chans, err := paramChannels(params)
	if err != nil {
		return "", err
	}
	switch command {
	case "VoltRead":
		return d.measure(ctx, "VOLT:DC", chans, 3.3, 0.05)
	case "CurrRead":
		for _, ch := range chans {
			if !d.currentCh[ch] {
				return "", &DomainError{Msg: fmt.Sprintf(
					"channel %d on %s cannot measure current (current channels: %s)",
					ch, d.model, currentChannelSet(d.currentCh))}
			}
		}
		return d.measure(ctx, "CURR:DC", chans, 0.25, 0.01)
	case "OpenChannel":
		if err := d.send(ctx, "ROUT:OPEN "+channelList(chans)); err != nil {
			return "", err
		}
		return "OK", nil
	case "CloseChannel":
		if err := d.send(ctx, "ROUT:CLOS "+channelList(chans)); err != nil {
			return "", err
		}
		return "OK", nil
	}
	return "", errors.Wrapf(ErrSchemaViolation, "command %q not supported by %s", command, d.model)
}

// measure issues one MEASure query over the channel list. Multi-channel
// scans come back comma-separated; the raw list is returned unchanged so
// single-channel reads stay directly evaluable.
func (d *DAQ) measure(ctx context.Context, quantity string, chans []int, nominal, spread float64) (string, error) {
	cmd := fmt.Sprintf("MEAS:%s? %s", quantity, channelList(chans))
	return d.query(ctx, cmd, func() string {
		vals := make([]string, len(chans))
		for i := range chans {
			vals[i] = simFloat(nominal, spread, 4)
		}
		return strings.Join(vals, ",")
	})
}

func currentChannelSet(m map[int]bool) string {
	chans := make([]int, 0, len(m))
	for ch := range m {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	parts := make([]string, len(chans))
	for i, ch := range chans {
		parts[i] = fmt.Sprint(ch)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
