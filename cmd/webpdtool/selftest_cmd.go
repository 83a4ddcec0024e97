// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/dispatch"
	"github.com/sprigga/webpdtool/internal/instrument"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/pool"
	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/report"
	"github.com/sprigga/webpdtool/internal/session"
)

// selftestCmd implements subcommands.Command to report station health and
// validate the configuration before a shift starts.
type selftestCmd struct {
	configPath string

	stdout io.Writer
}

var _ = subcommands.Command(&selftestCmd{})

func newSelftestCmd(stdout io.Writer) *selftestCmd { return &selftestCmd{stdout: stdout} }

func (*selftestCmd) Name() string     { return "selftest" }
func (*selftestCmd) Synopsis() string { return "report station health and validate configuration" }
func (*selftestCmd) Usage() string {
	return `Usage: selftest [-config <file>]

Description:
	Prints host information and the registered driver types, runs a
	built-in simulated two-item session end to end, and, if a
	configuration file is given, validates every instrument entry.

Flag:
`
}

func (sc *selftestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&sc.configPath, "config", "", "station configuration file to validate")
}

func (sc *selftestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if hi, err := host.InfoWithContext(ctx); err == nil {
		fmt.Fprintf(sc.stdout, "Host:     %s (%s %s, up %ds)\n", hi.Hostname, hi.Platform, hi.PlatformVersion, hi.Uptime)
	} else {
		fmt.Fprintf(sc.stdout, "Host:     unavailable (%v)\n", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		fmt.Fprintf(sc.stdout, "CPU:      %d logical cores\n", n)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fmt.Fprintf(sc.stdout, "Memory:   %d MiB total, %.0f%% used\n", vm.Total/1024/1024, vm.UsedPercent)
	}
	fmt.Fprintf(sc.stdout, "Drivers:  %s\n", strings.Join(instrument.Types(), ", "))

	if err := sc.runSimulated(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: simulated session failed: %v\n", err)
		return subcommands.ExitFailure
	}

	if sc.configPath == "" {
		return subcommands.ExitSuccess
	}
	cfg, err := config.Load(sc.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	known := make(map[string]bool)
	for _, typ := range instrument.Types() {
		known[typ] = true
	}
	bad := 0
	for _, inst := range cfg.Instruments {
		if !known[inst.Type] {
			fmt.Fprintf(sc.stdout, "Config:   %s has unknown driver type %q\n", inst.ID, inst.Type)
			bad++
		}
	}
	if bad > 0 {
		return subcommands.ExitFailure
	}
	fmt.Fprintf(sc.stdout, "Config:   %d instruments OK\n", len(cfg.Instruments))
	return subcommands.ExitSuccess
}

func fptr(f float64) *float64 { return &f }

// runSimulated drives a two-item set-then-measure plan against a simulated
// power supply, proving the engine, pool, dispatcher and report writer work
// on this host.
func (sc *selftestCmd) runSimulated(ctx context.Context) error {
	cfg := config.Default()
	cfg.Simulation = true
	cfg.ReportRoot = filepath.Join(os.TempDir(), "webpdtool-selftest")
	cfg.Instruments = []config.InstrumentConfig{
		{ID: "PSU_SIM", Type: "2303", Connection: config.ConnectionConfig{Type: config.ConnSimulated}},
	}

	items := []*plan.Item{
		{
			ItemNo: 1, ItemName: "Set 5V", ItemKey: "set5v", Command: "PowerSet",
			Params:    plan.Params{"instrument": "PSU_SIM", "volt": "5.0"},
			ValueType: plan.ValueFloat, LimitType: plan.LimitNone, Enabled: true,
		},
		{
			ItemNo: 2, ItemName: "Read 5V", ItemKey: "read5v", Command: "PowerRead",
			Params:    plan.Params{"instrument": "PSU_SIM", "measure": "voltage"},
			ValueType: plan.ValueFloat, LimitType: plan.LimitBoth,
			LowerLimit: fptr(4.9), UpperLimit: fptr(5.1), Unit: "V", Enabled: true,
		},
	}
	store := repo.NewMemory()
	if err := store.PutTestPlan("selftest", "sim", "smoke", items); err != nil {
		return err
	}

	p := pool.New(cfg)
	defer p.Close(context.Background())
	eng := session.NewEngine(store, dispatch.New(p, cfg), report.NewWriter(cfg.ReportRoot), cfg)
	reg := session.NewRegistry(ctx, eng, store)
	defer reg.Close()

	s, err := reg.Create(ctx, session.StartRequest{
		SerialNumber: "SELFTEST", StationID: "sim", ProjectID: "selftest", PlanName: "smoke",
	})
	if err != nil {
		return err
	}
	if err := reg.Start(ctx, s.ID); err != nil {
		return err
	}
	reg.Wait(s.ID)

	final, err := store.GetSession(ctx, s.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(sc.stdout, "Session:  %s %s (%d/%d passed)\n",
		final.Status, final.FinalResult, final.PassItems, final.TotalItems)
	if reports, err := filepath.Glob(filepath.Join(cfg.ReportRoot, "selftest", "sim", "*", "SELFTEST_*.csv")); err == nil && len(reports) > 0 {
		fmt.Fprintf(sc.stdout, "Report:   %s\n", reports[len(reports)-1])
	}
	if final.FinalResult != repo.OutcomePass {
		return errors.Errorf("simulated session finished %s", final.FinalResult)
	}
	return nil
}
