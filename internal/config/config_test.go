// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"strings"
	"testing"
)

const sampleDoc = `
instruments:
  - id: DAQ973A_1
    type: DAQ973A
    connection:
      type: tcp
      host: 192.168.0.10
      port: 5025
      timeout_ms: 2000
  - id: PSU_1
    type: "2303"
    connection:
      type: serial
      device: /dev/ttyUSB0
      baud: 9600
    enabled: false
report_root: /srv/reports
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if cfg.ReportRoot != "/srv/reports" {
		t.Errorf("ReportRoot = %q; want /srv/reports", cfg.ReportRoot)
	}
	// Unset keys keep their defaults.
	if cfg.DefaultItemTimeoutMS != 30000 {
		t.Errorf("DefaultItemTimeoutMS = %d; want 30000", cfg.DefaultItemTimeoutMS)
	}
	if !cfg.StopOnFail {
		t.Error("StopOnFail = false; want default true")
	}

	daq, ok := cfg.Instrument("DAQ973A_1")
	if !ok {
		t.Fatal("Instrument(DAQ973A_1) not found")
	}
	if !daq.IsEnabled() {
		t.Error("DAQ973A_1 should default to enabled")
	}
	if daq.Connection.Type != ConnTCP || daq.Connection.Port != 5025 {
		t.Errorf("DAQ973A_1 connection = %+v; want tcp:5025", daq.Connection)
	}

	psu, ok := cfg.Instrument("PSU_1")
	if !ok {
		t.Fatal("Instrument(PSU_1) not found")
	}
	if psu.IsEnabled() {
		t.Error("PSU_1 should be disabled")
	}
}

func TestParseRejections(t *testing.T) {
	for _, tc := range []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			"duplicate id",
			`instruments: [{id: A, type: T, connection: {type: simulated}}, {id: A, type: T, connection: {type: simulated}}]`,
			"duplicate instrument id",
		},
		{
			"missing connection type",
			`instruments: [{id: A, type: T, connection: {host: h}}]`,
			"requires type",
		},
		{
			"serial without device",
			`instruments: [{id: A, type: T, connection: {type: serial, baud: 9600}}]`,
			"requires device",
		},
		{
			"ssh without credentials",
			`instruments: [{id: A, type: T, connection: {type: ssh, host: h, user: u}}]`,
			"secret or key_file",
		},
		{
			"udp without ports",
			`instruments: [{id: A, type: T, connection: {type: udp, host: h}}]`,
			"connect_port",
		},
		{
			"bad timeout",
			`default_item_timeout_ms: -5`,
			"must be positive",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); err == nil {
				t.Error("Parse() unexpectedly succeeded")
			} else if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Parse() = %q; want substring %q", err, tc.wantErr)
			}
		})
	}
}
