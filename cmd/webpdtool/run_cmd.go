// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/dispatch"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/pool"
	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/repo/sqlrepo"
	"github.com/sprigga/webpdtool/internal/report"
	"github.com/sprigga/webpdtool/internal/session"
)

// runCmd implements subcommands.Command to execute one test session.
type runCmd struct {
	configPath string
	planFile   string
	dbDSN      string
	project    string
	station    string
	planName   string
	serial     string
	operator   string
	simulation bool
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd() *runCmd { return &runCmd{} }

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run one test session against a DUT" }
func (*runCmd) Usage() string {
	return `Usage: run -config <file> -serial <sn> [flag]...

Description:
	Runs the configured test plan against one device and writes the CSV
	report. The plan comes from -plan-file or, with -db, from the
	test_plan_items table.

Flag:
`
}

func (rc *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&rc.configPath, "config", "webpdtool.yaml", "station configuration file")
	f.StringVar(&rc.planFile, "plan-file", "", "YAML test plan (alternative to -db)")
	f.StringVar(&rc.dbDSN, "db", "", "PostgreSQL DSN for plan and result storage")
	f.StringVar(&rc.project, "project", "", "project id")
	f.StringVar(&rc.station, "station", "", "station id")
	f.StringVar(&rc.planName, "plan", "", "test plan name")
	f.StringVar(&rc.serial, "serial", "", "DUT serial number")
	f.StringVar(&rc.operator, "operator", "", "operator id")
	f.BoolVar(&rc.simulation, "simulation", false, "force simulated instruments")
}

func (rc *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if rc.serial == "" {
		logging.Info(ctx, "Missing -serial.\n\n"+rc.Usage())
		return subcommands.ExitUsageError
	}

	cfg, err := config.Load(rc.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	if rc.simulation {
		cfg.Simulation = true
	}

	var store repo.Repository
	switch {
	case rc.dbDSN != "":
		db, err := sqlrepo.Open(ctx, rc.dbDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return subcommands.ExitFailure
		}
		defer db.Close()
		store = db
	case rc.planFile != "":
		items, err := plan.LoadFile(rc.planFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return subcommands.ExitFailure
		}
		mem := repo.NewMemory()
		if err := mem.PutTestPlan(rc.project, rc.station, rc.planName, items); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return subcommands.ExitFailure
		}
		store = mem
	default:
		logging.Info(ctx, "Either -db or -plan-file is required.\n\n"+rc.Usage())
		return subcommands.ExitUsageError
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		logging.Infof(ctx, "Host %s (%s %s), uptime %ds", hi.Hostname, hi.Platform, hi.PlatformVersion, hi.Uptime)
	}

	p := pool.New(cfg)
	defer p.Close(context.Background())

	eng := session.NewEngine(store, dispatch.New(p, cfg), report.NewWriter(cfg.ReportRoot), cfg)
	reg := session.NewRegistry(ctx, eng, store)
	defer reg.Close()

	s, err := reg.Create(ctx, session.StartRequest{
		SerialNumber: rc.serial,
		StationID:    rc.station,
		OperatorID:   rc.operator,
		ProjectID:    rc.project,
		PlanName:     rc.planName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := reg.Start(ctx, s.ID); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	if ch, err := reg.Subscribe(s.ID); err == nil {
		for prog := range ch {
			logging.Infof(ctx, "Item %d/%d: %d pass, %d fail, %d error",
				prog.CurrentItem, prog.TotalItems, prog.Pass, prog.Fail, prog.Error)
		}
	}
	reg.Wait(s.ID)

	final, err := store.GetSession(ctx, s.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	logging.Infof(ctx, "Session %s: %s %s (%d/%d passed, %d ms)",
		final.ID, final.Status, final.FinalResult, final.PassItems, final.TotalItems, final.DurationMS)
	if final.FinalResult != repo.OutcomePass {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
