// retouch - stream AI image edits and chat from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/retouch/internal/cli"
	"github.com/jeranaias/retouch/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(runTUI)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// runTUI hands the wired application to the Bubble Tea interface.
func runTUI(ctx context.Context, app *cli.App) error {
	return chat.Run(ctx, chat.Deps{
		Orchestrator: app.Orchestrator,
		Session:      app.Session,
		Config:       app.Config,
		ConfigPath:   app.ConfigPath,
		Log:          app.Log,
	})
}
