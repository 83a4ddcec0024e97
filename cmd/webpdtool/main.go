// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the webpdtool executable, used to run and inspect
// manufacturing test sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/sprigga/webpdtool/internal/logging"
)

const signalChannelSize = 3

// Version is the version info of this command. It is filled in at build time.
var Version = "<unknown>"

// installSignalHandler starts a goroutine that aborts running sessions on
// the first termination signal and force-exits on the second.
func installSignalHandler(cancel context.CancelFunc) {
	sc := make(chan os.Signal, signalChannelSize)
	go func() {
		<-sc
		fmt.Fprintln(os.Stderr, "\nCaught signal; aborting sessions")
		cancel()
		<-sc
		fmt.Fprintln(os.Stderr, "\nCaught second signal; exiting")
		os.Exit(1)
	}()
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
}

// doMain implements the main body of the program. It's a separate function
// so that its deferred functions run before os.Exit.
func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newRunCmd(), "")
	subcommands.Register(newListCmd(os.Stdout), "")
	subcommands.Register(newPlanCmd(os.Stdout), "")
	subcommands.Register(newSelftestCmd(os.Stdout), "")

	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", true, "include date/time headers in logs")
	flag.Parse()

	if *version {
		fmt.Printf("webpdtool version %s\n", Version)
		return 0
	}

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	ctx := logging.AttachLogger(context.Background(), logging.NewSinkLogger(level, *logTime, os.Stdout))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	installSignalHandler(cancel)

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
