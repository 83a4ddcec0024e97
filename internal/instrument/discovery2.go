// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
)

func init() {
	Register("AnalogDiscovery2", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		// The device needs the vendor's C waveform SDK, which is not
		// linked here. The driver always runs in simulation and says so
		// through Simulated.
		return &AnalogDiscovery2{}, nil
	})
	RegisterSchema("AnalogDiscovery2", "ScopeRead", &Schema{
		Required: []string{"instrument", "measure"},
		Optional: []string{"channel", "freq"},
		Example:  "instrument: AD2_1, measure: amplitude, channel: 1",
	})
	RegisterSchema("AnalogDiscovery2", "AWGOutput", &Schema{
		Required: []string{"instrument", "freq", "ampl"},
		Optional: []string{"shape", "channel"},
		Example:  "instrument: AD2_1, freq: 1000, ampl: 1.0, shape: sine",
	})
}

// AnalogDiscovery2 stands in for the Digilent USB scope/AWG. Without the
// vendor FFI library it advertises simulation mode and returns synthetic
// readings in the nominal band.
type AnalogDiscovery2 struct{}

// Simulated reports that this driver never touches hardware.
func (d *AnalogDiscovery2) Simulated() bool { return true }

func (d *AnalogDiscovery2) Initialize(ctx context.Context) error { return nil }
func (d *AnalogDiscovery2) Reset(ctx context.Context) error      { return nil }
func (d *AnalogDiscovery2) RetrySafe() bool                      { return true }
func (d *AnalogDiscovery2) Close() error                         { return nil }

func (d *AnalogDiscovery2) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams("AnalogDiscovery2", command, params); err != nil {
		return "", err
	}
	switch command {
	case "ScopeRead":
		measure, _ := params.String("measure")
		switch measure {
		case "amplitude":
			return simFloat(1.0, 0.02, 4), nil
		case "frequency":
			nominal := 1000.0
			if f, ok := params.Float("freq"); ok {
				nominal = f
			}
			return simFloat(nominal, nominal*0.001, 2), nil
		}
		return "", errors.Wrapf(ErrBadParameter, "unknown measure %q (amplitude or frequency)", measure)
	case "AWGOutput":
		return "OK", nil
	}
	return "", errors.Wrapf(ErrSchemaViolation, "command %q not supported by AnalogDiscovery2", command)
}
