// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package cli implements syncctl, the operator command line for a running
// Pagesync instance. Every command is a thin client of the ops API.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// DefaultServer is used when neither --server nor PAGESYNC_URL is set.
const DefaultServer = "http://127.0.0.1:8088"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate a running Pagesync instance",
		Long: `syncctl triggers sync runs and inspects lock and cursor state through the
Pagesync ops API.

Scope parameters are passed with -p/--param and may be repeated:

  syncctl trigger friend-list -p account=acct1
  syncctl lock chatroom-list -p account=acct1 -p deleted=0
  syncctl cursor moment-list -p account=acct1
  syncctl cursor friend-list -p account=acct1 --run-id 20261019T101500Z-3f9a2c1d`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Timeout <= 0 {
				return NewExitError(ExitCommandError, "--timeout must be positive")
			}
			return nil
		},
	}

	server := os.Getenv("PAGESYNC_URL")
	if server == "" {
		server = DefaultServer
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "ops API base URL (env PAGESYNC_URL)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 6*time.Minute, "request timeout")

	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))
	cmd.AddCommand(NewResourcesCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
