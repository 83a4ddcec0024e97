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

// smcvModeParams lists the parameters each generator mode requires beyond
// the schema's baseline.
var smcvModeParams = map[string][]string{
	"RESET": nil,
	"DAB":   {"freq", "level", "ensemble"},
	"AM":    {"freq", "level", "depth"},
	"FM":    {"freq", "level", "deviation"},
	"IQ":    {"freq", "level", "waveform"},
	"RF":    {"freq", "level"},
}

func init() {
	Register("SMCV100B", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		base, err := newSCPIDriver(ctx, cfg, sim)
		if err != nil {
			return nil, err
		}
		return &SMCV100B{scpiDriver: base}, nil
	})
	RegisterSchema("SMCV100B", "SignalGen", &Schema{
		Required: []string{"instrument", "mode"},
		Optional: []string{"freq", "level", "ensemble", "depth", "deviation", "waveform"},
		Example:  "instrument: GEN_1, mode: FM, freq: 98.5e6, level: -40, deviation: 75e3",
	})
}

// SMCV100B drives the Rohde & Schwarz vector signal generator. The "mode"
// parameter selects the modulation personality; each mode has its own
// required parameters, enforced here because the schema cannot express the
// conditional.
type SMCV100B struct {
	scpiDriver
}

func (d *SMCV100B) Initialize(ctx context.Context) error {
	if err := d.send(ctx, "*RST"); err != nil {
		return err
	}
	return d.send(ctx, "*CLS")
}

func (d *SMCV100B) Reset(ctx context.Context) error {
	return d.send(ctx, "OUTPut:STATe OFF")
}

func (d *SMCV100B) RetrySafe() bool { return false }

func (d *SMCV100B) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.model, command, params); err != nil {
		return "", err
	}
	mode, _ := params.String("mode")
	mode = strings.ToUpper(mode)
	required, ok := smcvModeParams[mode]
	if !ok {
		return "", errors.Wrapf(ErrBadParameter, "unknown mode %q (RESET, DAB, AM, FM, IQ or RF)", mode)
	}
	var missing []string
	for _, k := range required {
		if !params.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return "", errors.Wrapf(ErrSchemaViolation, "mode %s requires %s", mode, strings.Join(missing, ", "))
	}

	if mode == "RESET" {
		if err := d.send(ctx, "*RST"); err != nil {
			return "", err
		}
		return "OK", nil
	}

	freq, _ := params.Float("freq")
	level, _ := params.Float("level")
	if err := d.send(ctx, fmt.Sprintf("SOURce:FREQuency %g", freq)); err != nil {
		return "", err
	}
	if err := d.send(ctx, fmt.Sprintf("SOURce:POWer %g", level)); err != nil {
		return "", err
	}
	switch mode {
	case "DAB":
		ens, _ := params.String("ensemble")
		if err := d.send(ctx, "SOURce:BB:DAB:STATe ON"); err != nil {
			return "", err
		}
		if err := d.send(ctx, "SOURce:BB:DAB:ENSemble "+ens); err != nil {
			return "", err
		}
	case "AM":
		depth, _ := params.Float("depth")
		if err := d.send(ctx, fmt.Sprintf("SOURce:AM:DEPTh %g", depth)); err != nil {
			return "", err
		}
		if err := d.send(ctx, "SOURce:AM:STATe ON"); err != nil {
			return "", err
		}
	case "FM":
		dev, _ := params.Float("deviation")
		if err := d.send(ctx, fmt.Sprintf("SOURce:FM:DEViation %g", dev)); err != nil {
			return "", err
		}
		if err := d.send(ctx, "SOURce:FM:STATe ON"); err != nil {
			return "", err
		}
	case "IQ":
		wf, _ := params.String("waveform")
		if err := d.send(ctx, "SOURce:BB:ARBitrary:WAVeform:SELect "+wf); err != nil {
			return "", err
		}
		if err := d.send(ctx, "SOURce:IQ:STATe ON"); err != nil {
			return "", err
		}
	case "RF":
		// Unmodulated carrier; frequency and level already set.
	}
	if err := d.send(ctx, "OUTPut:STATe ON"); err != nil {
		return "", err
	}
	return "OK", nil
}
