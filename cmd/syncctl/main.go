// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Command syncctl talks to the Pagesync ops API: it starts sync runs and
// inspects scope locks and cursors.
//
//	syncctl trigger friend-list -p account=acct1
//	syncctl lock friend-list -p account=acct1
//	syncctl cursor moment-list -p account=acct1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/pagesync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
