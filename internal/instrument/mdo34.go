// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/testingutil"
)

// autoSetupTimeout bounds the BUSY? poll after AUTOSet. The scope can take
// seconds to settle on slow signals but must report idle within 10 s.
const autoSetupTimeout = 10 * time.Second

func init() {
	Register("MDO34", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
		base, err := newSCPIDriver(ctx, cfg, sim)
		if err != nil {
			return nil, err
		}
		return &MDO34{scpiDriver: base}, nil
	})
	RegisterSchema("MDO34", "AutoSetup", &Schema{
		Required: []string{"instrument"},
		Example:  "instrument: SCOPE_1",
	})
	RegisterSchema("MDO34", "Measure", &Schema{
		Required: []string{"instrument", "type"},
		Optional: []string{"channel"},
		Example:  "instrument: SCOPE_1, type: FREQuency, channel: 1",
	})
}

// MDO34 drives the Tektronix MDO34 oscilloscope.
type MDO34 struct {
	scpiDriver
}

func (d *MDO34) Initialize(ctx context.Context) error {
	if err := d.send(ctx, "*RST"); err != nil {
		return err
	}
	return d.send(ctx, "*CLS")
}

func (d *MDO34) Reset(ctx context.Context) error {
	return d.send(ctx, "ACQuire:STATE STOP")
}

func (d *MDO34) RetrySafe() bool { return true }

func (d *MDO34) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.model, command, params); err != nil {
		return "", err
	}
	switch command {
	case "AutoSetup":
		if err := d.autoSetup(ctx); err != nil {
			return "", err
		}
		return "OK", nil
	case "Measure":
		return d.measure(ctx, params)
	}
	return "", errors.Wrapf(ErrSchemaViolation, "command %q not supported by %s", command, d.model)
}

// autoSetup triggers AUTOSet and polls BUSY? until the scope reports idle.
func (d *MDO34) autoSetup(ctx context.Context) error {
	if err := d.send(ctx, "AUTOSet EXECute"); err != nil {
		return err
	}
	return testingutil.Poll(ctx, func(ctx context.Context) error {
		busy, err := d.query(ctx, "BUSY?", func() string { return "0" })
		if err != nil {
			return testingutil.PollBreak(err)
		}
		if strings.TrimSpace(busy) != "0" {
			return errors.New("scope still busy after AUTOSet")
		}
		return nil
	}, &testingutil.PollOptions{Timeout: autoSetupTimeout, Interval: 200 * time.Millisecond})
}

func (d *MDO34) measure(ctx context.Context, params plan.Params) (string, error) {
	typ, _ := params.String("type")
	if ch, ok := params.Int("channel"); ok {
		if err := d.send(ctx, "MEASUrement:IMMed:SOUrce1 CH"+strconv.Itoa(ch)); err != nil {
			return "", err
		}
	}
	if err := d.send(ctx, "MEASUrement:IMMed:TYPe "+typ); err != nil {
		return "", err
	}
	// The type change is asynchronous; confirm it took before reading.
	if err := testingutil.Poll(ctx, func(ctx context.Context) error {
		got, err := d.query(ctx, "MEASUrement:IMMed:TYPe?", func() string { return typ })
		if err != nil {
			return testingutil.PollBreak(err)
		}
		if !strings.EqualFold(strings.TrimSpace(got), typ) {
			return errors.Errorf("measurement type is %q, want %q", got, typ)
		}
		return nil
	}, &testingutil.PollOptions{Timeout: 2 * time.Second, Interval: 100 * time.Millisecond}); err != nil {
		return "", err
	}
	return d.query(ctx, "MEASUrement:IMMed:VALue?", func() string { return simFloat(1000, 5, 3) })
}
