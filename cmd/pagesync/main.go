// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package main is the entry point for the Pagesync server.
//
// Pagesync mirrors paginated list endpoints of an upstream platform into a
// local SQL store. A sync run for one resource scope takes the scope's lock,
// fetches and applies one page per step, persists the cursor, and enqueues the
// next page as a queue job until a short page ends the chain.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, config.yaml and environment (Koanf v2)
//  2. NATS (optional): embedded JetStream server or a client connection
//  3. KV store: BadgerDB or a JetStream KeyValue bucket for locks and cursors
//  4. Record store: DuckDB or SQLite upsert sink
//  5. Pipeline: upstream client, resource adapters, runner and trigger
//  6. Queue: Watermill transport, dispatcher and consuming router
//  7. Scheduler: cron and interval triggers from the resources list
//  8. Ops API: health, metrics, manual trigger, lock and cursor inspection
//
// Long-running parts run under a suture supervisor tree; stores and the NATS
// server are opened before the tree starts and closed after it stops.
//
// # Configuration
//
// The only required setting is UPSTREAM_URL. See package config for the full
// list of environment variables and the YAML layout.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the tree. The consumer finishes its in-flight steps
// (QUEUE_CLOSE_TIMEOUT), the HTTP server drains, and the stores are closed.
//
// # Example Usage
//
// Single process with in-process queue and embedded KV:
//
//	export UPSTREAM_URL=https://api.example.com
//	export UPSTREAM_TOKEN=secret
//	./pagesync
//
// Several workers sharing one NATS server:
//
//	export NATS_URL=nats://nats:4222
//	export KV_BACKEND=nats
//	export QUEUE_TRANSPORT=nats
//	./pagesync
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/pagesync/internal/config"
	"github.com/tomtom215/pagesync/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Log())

	logging.Info().
		Str("upstream", cfg.Upstream.URL).
		Str("kv_backend", cfg.KV.Backend).
		Str("queue_transport", cfg.Queue.Transport).
		Str("store_driver", cfg.Store.Driver).
		Int("scheduled_resources", len(cfg.Resources)).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize")
		os.Exit(1)
	}

	logging.Info().Msg("Starting supervisor tree")
	err = a.serve(ctx)
	a.close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("Pagesync stopped gracefully")
}
