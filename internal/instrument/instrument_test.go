// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
)

func simDriver(t *testing.T, typ string) Driver {
	t.Helper()
	d, err := New(context.Background(), &config.InstrumentConfig{
		ID:         typ + "_1",
		Type:       typ,
		Connection: config.ConnectionConfig{Type: config.ConnSimulated},
	}, false)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", typ, err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestValidateParams(t *testing.T) {
	err := ValidateParams("2303", "PowerSet", plan.Params{"instrument": "PSU_1"})
	if !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("ValidateParams() = %v; want ErrSchemaViolation", err)
	}
	if err == nil || !strings.Contains(err.Error(), "volt") {
		t.Errorf("ValidateParams() = %v; want missing volt", err)
	}

	err = ValidateParams("2303", "NoSuchCommand", plan.Params{})
	if err == nil || !strings.Contains(err.Error(), "PowerRead") {
		t.Errorf("ValidateParams() = %v; want supported command list", err)
	}

	if err := ValidateParams("2303", "PowerSet", plan.Params{"instrument": "PSU_1", "volt": "5.0"}); err != nil {
		t.Errorf("ValidateParams() failed on a valid bag: %v", err)
	}
}

func TestPSUSetAndReadBack(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "2303")
	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	raw, err := d.ExecuteCommand(ctx, "PowerSet", plan.Params{"instrument": "PSU_1", "volt": "5.0", "curr": "1.0"})
	if err != nil {
		t.Fatalf("PowerSet failed: %v", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t.Fatalf("PowerSet returned non-numeric %q", raw)
	}
	if v < 4.99 || v > 5.01 {
		t.Errorf("PowerSet read-back = %v; want close to 5.0", v)
	}

	// A later read tracks the programmed level.
	raw, err = d.ExecuteCommand(ctx, "PowerRead", plan.Params{"instrument": "PSU_1"})
	if err != nil {
		t.Fatalf("PowerRead failed: %v", err)
	}
	if v, _ := strconv.ParseFloat(raw, 64); v < 4.9 || v > 5.1 {
		t.Errorf("PowerRead = %v; want within [4.9, 5.1]", v)
	}
}

func TestDAQCurrentChannelDomain(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "DAQ973A")

	if _, err := d.ExecuteCommand(ctx, "CurrRead", plan.Params{"instrument": "DAQ973A_1", "channel": 121}); err != nil {
		t.Errorf("CurrRead on channel 121 failed: %v", err)
	}

	_, err := d.ExecuteCommand(ctx, "CurrRead", plan.Params{"instrument": "DAQ973A_1", "channel": 101})
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("CurrRead on channel 101 = %v; want DomainError", err)
	}
	if !strings.Contains(de.Msg, "121") {
		t.Errorf("DomainError %q does not name the current channels", de.Msg)
	}
}

func TestDAQChannelListRead(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "DAQ973A")

	// Plan files author channel lists as YAML integers.
	raw, err := d.ExecuteCommand(ctx, "VoltRead", plan.Params{"instrument": "DAQ973A_1", "channels": []interface{}{101, 102}})
	if err != nil {
		t.Fatalf("VoltRead over a channel list failed: %v", err)
	}
	vals := strings.Split(raw, ",")
	if len(vals) != 2 {
		t.Fatalf("VoltRead = %q; want two readings", raw)
	}
	for _, v := range vals {
		if _, perr := strconv.ParseFloat(v, 64); perr != nil {
			t.Errorf("VoltRead reading %q is non-numeric", v)
		}
	}

	_, err = d.ExecuteCommand(ctx, "CurrRead", plan.Params{"instrument": "DAQ973A_1", "channels": []interface{}{121, 101}})
	var de *DomainError
	if !errors.As(err, &de) {
		t.Errorf("CurrRead over {121, 101} = %v; want DomainError", err)
	}
}

func TestKeithley2015States(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "2015")

	if out, err := d.ExecuteCommand(ctx, "Distortion", plan.Params{"instrument": "THD_1", "state": 0}); err != nil || out != "OK" {
		t.Errorf("state 0 = (%q, %v); want (OK, nil)", out, err)
	}
	if out, err := d.ExecuteCommand(ctx, "Distortion", plan.Params{"instrument": "THD_1", "state": 1, "mode": "THD", "freq": 1000}); err != nil {
		t.Errorf("state 1 failed: %v", err)
	} else if _, perr := strconv.ParseFloat(out, 64); perr != nil {
		t.Errorf("state 1 returned non-numeric %q", out)
	}
	if _, err := d.ExecuteCommand(ctx, "Distortion", plan.Params{"instrument": "THD_1", "state": 2}); !errors.Is(err, ErrBadParameter) {
		t.Errorf("state 2 without ampl = %v; want ErrBadParameter", err)
	}
	if _, err := d.ExecuteCommand(ctx, "Distortion", plan.Params{"instrument": "THD_1", "state": 3}); !errors.Is(err, ErrBadParameter) {
		t.Errorf("state 3 = %v; want ErrBadParameter", err)
	}
}

func TestExtractResponse(t *testing.T) {
	for _, tc := range []struct {
		name    string
		resp    string
		params  plan.Params
		want    string
		wantErr bool
	}{
		{"raw", "hello\r\n", plan.Params{}, "hello", false},
		{"keyword", "fw version: 1.2.3 build 7", plan.Params{"keyword": "version:"}, "1.2.3 build 7", false},
		{"keyword+field", "fw version: 1.2.3 build 7", plan.Params{"keyword": "version:", "split_count": 0}, "1.2.3", false},
		{"field", "a b c", plan.Params{"split_count": 2}, "c", false},
		{"length", "abcdef", plan.Params{"split_length": 3}, "abc", false},
		{"keyword missing", "nothing here", plan.Params{"keyword": "version:"}, "", true},
		{"field out of range", "a b", plan.Params{"split_count": 5}, "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractResponse(tc.resp, tc.params)
			if tc.wantErr {
				if err == nil {
					t.Errorf("extractResponse() = %q; want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractResponse() failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("extractResponse() = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestWaitBounds(t *testing.T) {
	ctx := context.Background()
	if _, err := Wait(ctx, -1); !errors.Is(err, ErrBadParameter) {
		t.Errorf("Wait(-1) = %v; want ErrBadParameter", err)
	}
	if _, err := Wait(ctx, 3_600_001); !errors.Is(err, ErrBadParameter) {
		t.Errorf("Wait(3600001) = %v; want ErrBadParameter", err)
	}
	out, err := Wait(ctx, 10)
	if err != nil {
		t.Fatalf("Wait(10) failed: %v", err)
	}
	if ms, perr := strconv.Atoi(out); perr != nil || ms < 10 {
		t.Errorf("Wait(10) = %q; want elapsed >= 10", out)
	}
}

func TestSMCVModeParams(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "SMCV100B")

	if _, err := d.ExecuteCommand(ctx, "SignalGen", plan.Params{"instrument": "GEN_1", "mode": "FM", "freq": 98.5e6, "level": -40.0}); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("FM without deviation = %v; want ErrSchemaViolation", err)
	}
	if out, err := d.ExecuteCommand(ctx, "SignalGen", plan.Params{
		"instrument": "GEN_1", "mode": "FM", "freq": 98.5e6, "level": -40.0, "deviation": 75e3,
	}); err != nil || out != "OK" {
		t.Errorf("FM = (%q, %v); want (OK, nil)", out, err)
	}
	if out, err := d.ExecuteCommand(ctx, "SignalGen", plan.Params{"instrument": "GEN_1", "mode": "reset"}); err != nil || out != "OK" {
		t.Errorf("RESET = (%q, %v); want (OK, nil)", out, err)
	}
	if _, err := d.ExecuteCommand(ctx, "SignalGen", plan.Params{"instrument": "GEN_1", "mode": "XYZ"}); !errors.Is(err, ErrBadParameter) {
		t.Errorf("mode XYZ = %v; want ErrBadParameter", err)
	}
}

func TestPeakCANSimExchange(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "PeakCAN")

	if _, err := d.ExecuteCommand(ctx, "CANWrite", plan.Params{
		"instrument": "CAN_1", "id": "0x800", "data": "01",
	}); !errors.Is(err, ErrBadParameter) {
		t.Errorf("11-bit overflow = %v; want ErrBadParameter", err)
	}
	if _, err := d.ExecuteCommand(ctx, "CANWrite", plan.Params{
		"instrument": "CAN_1", "id": "0x123", "data": "010203040506070809",
	}); !errors.Is(err, ErrBadParameter) {
		t.Errorf("9-byte classic payload = %v; want ErrBadParameter", err)
	}

	out, err := d.ExecuteCommand(ctx, "CANWriteRead", plan.Params{
		"instrument": "CAN_1", "id": "0x7E0", "data": "0201050000000000", "filter_id": "0x7E8",
	})
	if err != nil {
		t.Fatalf("CANWriteRead failed: %v", err)
	}
	if out != "7E8:0201050000000000" {
		t.Errorf("CANWriteRead = %q; want 7E8:0201050000000000", out)
	}
}

func TestChassisSim(t *testing.T) {
	ctx := context.Background()
	d := simDriver(t, "Chassis")

	if out, err := d.ExecuteCommand(ctx, "ChassisRotate", plan.Params{
		"instrument": "CHASSIS_1", "direction": "CW", "duration_ms": 500,
	}); err != nil || out != "OK" {
		t.Errorf("ChassisRotate = (%q, %v); want (OK, nil)", out, err)
	}
	if _, err := d.ExecuteCommand(ctx, "ChassisRotate", plan.Params{
		"instrument": "CHASSIS_1", "direction": "UP", "duration_ms": 500,
	}); !errors.Is(err, ErrBadParameter) {
		t.Errorf("direction UP = %v; want ErrBadParameter", err)
	}
	if out, err := d.ExecuteCommand(ctx, "DoorStatus", plan.Params{"instrument": "CHASSIS_1"}); err != nil || out != "CLOSED" {
		t.Errorf("DoorStatus = (%q, %v); want (CLOSED, nil)", out, err)
	}
}
