// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/testingutil"
	"github.com/sprigga/webpdtool/internal/transport"
)

// wirelessModel holds the per-tester SCPI verbs for an LTE TX power
// measurement: configure, arm, poll a status register, fetch.
type wirelessModel struct {
	configure string // takes band, channel
	initiate  string
	status    string
	fetch     string
}

var wirelessModels = map[string]wirelessModel{
	"CMW100": {
		configure: "CONFigure:LTE:MEAS:RFSettings:CHANnel %d; :CONFigure:LTE:MEAS:BAND %s",
		initiate:  "INITiate:LTE:MEAS:MEValuation",
		status:    "FETCh:LTE:MEAS:MEValuation:STATe?",
		fetch:     "FETCh:LTE:MEAS:MEValuation:TXPower?",
	},
	"MT8872A": {
		configure: "CHAN %d; BAND %s",
		initiate:  "MEASure:POWer",
		status:    "STATus:MEASure?",
		fetch:     "FETCh:POWer?",
	},
}

// Status-register values shared by both testers after normalization.
const (
	wirelessStatusReady    = "RDY"
	wirelessStatusSyncLost = "SLO"
	wirelessStatusRunning  = "RUN"
)

func init() {
	for model := range wirelessModels {
		m := model
		Register(m, func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
			base, err := newSCPIDriver(ctx, cfg, sim)
			if err != nil {
				return nil, err
			}
			return &Wireless{scpiDriver: base, wm: wirelessModels[m]}, nil
		})
		RegisterSchema(m, "RF_LTE_TX", &Schema{
			Required: []string{"instrument", "band", "channel"},
			Optional: []string{"expected_power", "timeout_ms"},
			Example:  "instrument: CMW_1, band: B1, channel: 18300",
		})
	}
}

// Wireless drives the CMW100 and MT8872A RF testers. Long measurements are
// armed and then polled on a status register; the register distinguishes
// "still running", "ready" and "signal sync lost".
type Wireless struct {
	scpiDriver
	wm wirelessModel
}

func (d *Wireless) Initialize(ctx context.Context) error {
	if err := d.send(ctx, "*RST"); err != nil {
		return err
	}
	return d.send(ctx, "*CLS")
}

func (d *Wireless) Reset(ctx context.Context) error {
	return d.send(ctx, "ABORt")
}

// RetrySafe is true: an aborted measurement can be re-armed without side
// effects on the DUT.
func (d *Wireless) RetrySafe() bool { return true }

func (d *Wireless) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.model, command, params); err != nil {
		return "", err
	}
	band, _ := params.String("band")
	channel, ok := params.Int("channel")
	if !ok {
		return "", errors.Wrap(ErrBadParameter, "channel is not an integer")
	}
	if err := d.send(ctx, fmt.Sprintf(d.wm.configure, channel, band)); err != nil {
		return "", err
	}
	if err := d.send(ctx, d.wm.initiate); err != nil {
		return "", err
	}
	if err := d.waitReady(ctx, params); err != nil {
		return "", err
	}
	return d.query(ctx, d.wm.fetch, func() string { return simFloat(23.0, 0.3, 2) })
}

func (d *Wireless) waitReady(ctx context.Context, params plan.Params) error {
	timeout := 10 * time.Second
	if ms, ok := params.Int("timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	err := testingutil.Poll(ctx, func(ctx context.Context) error {
		st, err := d.query(ctx, d.wm.status, func() string { return wirelessStatusReady })
		if err != nil {
			return testingutil.PollBreak(err)
		}
		switch strings.ToUpper(strings.TrimSpace(st)) {
		case wirelessStatusReady:
			return nil
		case wirelessStatusSyncLost:
			return testingutil.PollBreak(errors.New("measurement lost signal sync"))
		default:
			return errors.Errorf("measurement still running (state %s)", st)
		}
	}, &testingutil.PollOptions{Timeout: timeout, Interval: 200 * time.Millisecond})
	if err != nil && ctx.Err() == nil && strings.Contains(err.Error(), "still running") {
		// The poll ran out of time with the register never leaving RUN.
		return errors.Wrap(transport.ErrTimeout, "measurement did not complete")
	}
	return err
}
