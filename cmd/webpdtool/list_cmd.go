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
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/repo/sqlrepo"
)

// listCmd implements subcommands.Command to list stored sessions.
type listCmd struct {
	dbDSN   string
	serial  string
	station string
	project string
	status  string
	limit   int

	stdout io.Writer
}

var _ = subcommands.Command(&listCmd{})

func newListCmd(stdout io.Writer) *listCmd { return &listCmd{stdout: stdout} }

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list stored test sessions" }
func (*listCmd) Usage() string {
	return `Usage: list -db <dsn> [flag]...

Description:
	Lists test sessions from the result store, newest last.

Flag:
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&lc.dbDSN, "db", "", "PostgreSQL DSN of the result store")
	f.StringVar(&lc.serial, "serial", "", "filter by DUT serial number")
	f.StringVar(&lc.station, "station", "", "filter by station id")
	f.StringVar(&lc.project, "project", "", "filter by project id")
	f.StringVar(&lc.status, "status", "", "filter by session status")
	f.IntVar(&lc.limit, "limit", 20, "maximum number of sessions to list")
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if lc.dbDSN == "" {
		fmt.Fprintln(os.Stderr, "Missing -db.\n\n"+lc.Usage())
		return subcommands.ExitUsageError
	}
	db, err := sqlrepo.Open(ctx, lc.dbDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	sessions, err := db.ListSessions(ctx, repo.Filter{
		SerialNumber: lc.serial,
		StationID:    lc.station,
		ProjectID:    lc.project,
		Status:       repo.Status(lc.status),
		Limit:        lc.limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}

	tw := tabwriter.NewWriter(lc.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERIAL\tSTATION\tSTATUS\tRESULT\tPASS\tFAIL\tERROR\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID, s.SerialNumber, s.StationID, s.Status, s.FinalResult,
			s.PassItems, s.FailItems, s.ErrorItems, s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
