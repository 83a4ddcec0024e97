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
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/repo/sqlrepo"
)

// planCmd implements subcommands.Command to print a normalized test plan.
type planCmd struct {
	planFile string
	dbDSN    string
	project  string
	station  string
	planName string

	stdout io.Writer
}

var _ = subcommands.Command(&planCmd{})

func newPlanCmd(stdout io.Writer) *planCmd { return &planCmd{stdout: stdout} }

func (*planCmd) Name() string     { return "plan" }
func (*planCmd) Synopsis() string { return "print a normalized test plan" }
func (*planCmd) Usage() string {
	return `Usage: plan -plan-file <file> | plan -db <dsn> -project <p> -station <s> -plan <name>

Description:
	Loads a test plan, normalizes it and prints the item table. Useful to
	verify a plan before running it.

Flag:
`
}

func (pc *planCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&pc.planFile, "plan-file", "", "YAML test plan file")
	f.StringVar(&pc.dbDSN, "db", "", "PostgreSQL DSN of the plan store")
	f.StringVar(&pc.project, "project", "", "project id (with -db)")
	f.StringVar(&pc.station, "station", "", "station id (with -db)")
	f.StringVar(&pc.planName, "plan", "", "test plan name (with -db)")
}

func (pc *planCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var items []*plan.Item
	var err error
	switch {
	case pc.planFile != "":
		items, err = plan.LoadFile(pc.planFile)
	case pc.dbDSN != "":
		var db *sqlrepo.Repo
		if db, err = sqlrepo.Open(ctx, pc.dbDSN); err == nil {
			defer db.Close()
			items, err = db.LoadTestPlan(ctx, pc.project, pc.station, pc.planName)
		}
	default:
		fmt.Fprintln(os.Stderr, "Either -plan-file or -db is required.\n\n"+pc.Usage())
		return subcommands.ExitUsageError
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}

	tw := tabwriter.NewWriter(pc.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NO\tKEY\tNAME\tCOMMAND\tMODE\tTYPE\tLIMIT\tLOW\tHIGH\tEQ\tUNIT\tENABLED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			it.ItemNo, it.ItemKey, it.ItemName, it.Command, it.SwitchMode,
			it.ValueType, it.LimitType, limitStr(it.LowerLimit), limitStr(it.UpperLimit),
			it.EqLimit, it.Unit, it.Enabled)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func limitStr(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
