// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/testingutil"
)

// psuSettle is how long outputs get to stabilize between programming a level
// and reading it back.
const psuSettle = 200 * time.Millisecond

// psuModel holds the per-model SCPI templates. The families differ mainly in
// channel selection; the programming verbs are common SCPI.
type psuModel struct {
	chanSel  string // empty when the model is single-channel
	setVolt  string
	setCurr  string
	output   string // takes ON or OFF
	measVolt string
	measCurr string
}

var psuModels = map[string]psuModel{
	"2303": {
		setVolt: "VOLT %.3f", setCurr: "CURR %.3f", output: "OUTP %s",
		measVolt: "MEAS:VOLT?", measCurr: "MEAS:CURR?",
	},
	"2306": {
		chanSel: "SENS:CHAN %d",
		setVolt: "VOLT %.3f", setCurr: "CURR %.3f", output: "OUTP %s",
		measVolt: "MEAS:VOLT?", measCurr: "MEAS:CURR?",
	},
	"2260B": {
		setVolt: "VOLT %.3f", setCurr: "CURR %.3f", output: "OUTP %s",
		measVolt: "MEAS:VOLT?", measCurr: "MEAS:CURR?",
	},
	"IT6723C": {
		setVolt: "VOLT %.3f", setCurr: "CURR %.3f", output: "OUTP %s",
		measVolt: "MEAS:VOLT?", measCurr: "MEAS:CURR?",
	},
	"PSW3072": {
		setVolt: "SOUR:VOLT %.3f", setCurr: "SOUR:CURR %.3f", output: "OUTP:STAT %s",
		measVolt: "MEAS:VOLT?", measCurr: "MEAS:CURR?",
	},
}

func init() {
	for model := range psuModels {
		m := model
		Register(m, func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
			return newPSU(ctx, cfg, sim)
		})
		RegisterSchema(m, "PowerSet", &Schema{
			Required: []string{"instrument", "volt"},
			Optional: []string{"curr", "channel"},
			Example:  "instrument: PSU_1, volt: 5.0, curr: 1.0",
		})
		RegisterSchema(m, "PowerRead", &Schema{
			Required: []string{"instrument"},
			Optional: []string{"measure", "channel"},
			Example:  "instrument: PSU_1, measure: voltage",
		})
		RegisterSchema(m, "PowerOff", &Schema{
			Required: []string{"instrument"},
			Example:  "instrument: PSU_1",
		})
	}
}

// PSU drives the programmable power-supply families. Voltage programming is
// set-and-read-back: after a settle delay the driver measures the output and
// compares rounded to 2 decimals.
type PSU struct {
	scpiDriver
	m psuModel

	mu       sync.Mutex
	lastVolt float64
	haveVolt bool
}

func newPSU(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (*PSU, error) {
	base, err := newSCPIDriver(ctx, cfg, sim)
	if err != nil {
		return nil, err
	}
	return &PSU{scpiDriver: base, m: psuModels[cfg.Type]}, nil
}

func (d *PSU) Initialize(ctx context.Context) error {
	if err := d.send(ctx, "*RST"); err != nil {
		return err
	}
	return d.send(ctx, "*CLS")
}

func (d *PSU) Reset(ctx context.Context) error {
	return d.send(ctx, fmt.Sprintf(d.m.output, "OFF"))
}

// RetrySafe is false: reissuing a set command after a partial failure could
// re-energize an output mid-sequence.
func (d *PSU) RetrySafe() bool { return false }

func (d *PSU) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.model, command, params); err != nil {
		return "", err
	}
	if err := d.selectChannel(ctx, params); err != nil {
		return "", err
	}
	switch command {
	case "PowerSet":
		return d.powerSet(ctx, params)
	case "PowerRead":
		return d.powerRead(ctx, params)
	case "PowerOff":
		if err := d.send(ctx, fmt.Sprintf(d.m.output, "OFF")); err != nil {
			return "", err
		}
		return "OFF", nil
	}
	return "", errors.Wrapf(ErrSchemaViolation, "command %q not supported by %s", command, d.model)
}

func (d *PSU) selectChannel(ctx context.Context, params plan.Params) error {
	ch, ok := params.Int("channel")
	if !ok {
		return nil
	}
	if d.m.chanSel == "" {
		return &DomainError{Msg: fmt.Sprintf("%s is single-channel; channel %d not selectable", d.model, ch)}
	}
	return d.send(ctx, fmt.Sprintf(d.m.chanSel, ch))
}

func (d *PSU) powerSet(ctx context.Context, params plan.Params) (string, error) {
	volt, ok := params.Float("volt")
	if !ok {
		return "", errors.Wrap(ErrBadParameter, "volt is not numeric")
	}
	if err := d.send(ctx, fmt.Sprintf(d.m.setVolt, volt)); err != nil {
		return "", err
	}
	if curr, ok := params.Float("curr"); ok {
		if err := d.send(ctx, fmt.Sprintf(d.m.setCurr, curr)); err != nil {
			return "", err
		}
	}
	if err := d.send(ctx, fmt.Sprintf(d.m.output, "ON")); err != nil {
		return "", err
	}
	if err := testingutil.Sleep(ctx, psuSettle); err != nil {
		return "", err
	}

	d.mu.Lock()
	d.lastVolt, d.haveVolt = volt, true
	d.mu.Unlock()

	raw, err := d.query(ctx, d.m.measVolt, func() string { return simFloat(volt, 0.004, 3) })
	if err != nil {
		return "", err
	}
	got, err := parseFloat(raw)
	if err != nil {
		return "", err
	}
	if round2(got) != round2(volt) {
		return "", &SetMismatchError{Quantity: "voltage", Want: volt, Got: got}
	}
	return raw, nil
}

func (d *PSU) powerRead(ctx context.Context, params plan.Params) (string, error) {
	measure, _ := params.String("measure")
	switch measure {
	case "", "voltage":
		return d.query(ctx, d.m.measVolt, func() string {
			d.mu.Lock()
			nominal, have := d.lastVolt, d.haveVolt
			d.mu.Unlock()
			if !have {
				nominal = 5.0
			}
			return simFloat(nominal, 0.02, 3)
		})
	case "current":
		return d.query(ctx, d.m.measCurr, func() string { return simFloat(0.5, 0.01, 3) })
	}
	return "", errors.Wrapf(ErrBadParameter, "unknown measure %q (voltage or current)", measure)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
