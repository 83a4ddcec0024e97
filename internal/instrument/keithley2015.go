// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"fmt"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
)

func init() {
	Register("2015", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		base, err := newSCPIDriver(ctx, cfg, sim)
		if err != nil {
			return nil, err
		}
		return &Keithley2015{scpiDriver: base}, nil
	})
	RegisterSchema("2015", "Distortion", &Schema{
		Required: []string{"instrument", "state"},
		Optional: []string{"mode", "type", "freq", "ampl", "imped", "shape"},
		Example:  "instrument: THD_1, state: 1, mode: THD, freq: 1000",
	})
}

// Keithley2015 drives the THD/SINAD multimeter. Operation is a three-state
// machine selected by the "state" parameter:
//
//	0: reset to power-on defaults
//	1: distortion measurement (mode, type, freq)
//	2: signal-generator output (ampl, imped, shape)
type Keithley2015 struct {
	scpiDriver
}

func (d *Keithley2015) Initialize(ctx context.Context) error {
	if err := d.send(ctx, "*RST"); err != nil {
		return err
	}
	return d.send(ctx, "*CLS")
}

func (d *Keithley2015) Reset(ctx context.Context) error {
	return d.send(ctx, ":OUTP OFF")
}

func (d *Keithley2015) RetrySafe() bool { return true }

func (d *Keithley2015) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.model, command, params); err != nil {
		return "", err
	}
	state, ok := params.Int("state")
	if !ok {
		return "", errors.Wrap(ErrBadParameter, "state is not an integer")
	}
	switch state {
	case 0:
		if err := d.send(ctx, "*RST"); err != nil {
			return "", err
		}
		return "OK", nil
	case 1:
		return d.measureDistortion(ctx, params)
	case 2:
		return d.generatorOutput(ctx, params)
	}
	return "", errors.Wrapf(ErrBadParameter, "state %d out of range (0, 1 or 2)", state)
}

func (d *Keithley2015) measureDistortion(ctx context.Context, params plan.Params) (string, error) {
	mode, _ := params.String("mode")
	switch strings.ToUpper(mode) {
	case "", "THD":
		mode = "THD"
	case "SINAD":
		mode = "SINAD"
	default:
		return "", errors.Wrapf(ErrBadParameter, "unknown distortion mode %q (THD or SINAD)", mode)
	}
	if err := d.send(ctx, ":SENS:FUNC 'DIST'"); err != nil {
		return "", err
	}
	if err := d.send(ctx, ":SENS:DIST:TYPE "+mode); err != nil {
		return "", err
	}
	if freq, ok := params.Float("freq"); ok {
		if err := d.send(ctx, fmt.Sprintf(":SENS:DIST:FREQ %g", freq)); err != nil {
			return "", err
		}
	}
	// THD around 0.05% for a clean sine in simulation.
	return d.query(ctx, ":READ?", func() string { return simFloat(0.05, 0.01, 4) })
}

func (d *Keithley2015) generatorOutput(ctx context.Context, params plan.Params) (string, error) {
	ampl, ok := params.Float("ampl")
	if !ok {
		return "", errors.Wrap(ErrBadParameter, "state 2 requires ampl")
	}
	if imped, ok := params.String("imped"); ok {
		if err := d.send(ctx, ":OUTP:IMP "+imped); err != nil {
			return "", err
		}
	}
	if shape, ok := params.String("shape"); ok {
		if err := d.send(ctx, ":SOUR:FUNC "+strings.ToUpper(shape)); err != nil {
			return "", err
		}
	}
	if freq, ok := params.Float("freq"); ok {
		if err := d.send(ctx, fmt.Sprintf(":SOUR:FREQ %g", freq)); err != nil {
			return "", err
		}
	}
	if err := d.send(ctx, fmt.Sprintf(":SOUR:AMPL %g", ampl)); err != nil {
		return "", err
	}
	if err := d.send(ctx, ":OUTP ON"); err != nil {
		return "", err
	}
	return "OK", nil
}
