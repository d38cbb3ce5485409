// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package config provides centralized configuration management for Pagesync.

# Configuration Sources

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Struct defaults (defaultConfig)
 2. A YAML file: CONFIG_PATH, or the first of DefaultConfigPaths that exists
 3. Environment variables, mapped explicitly by envTransformFunc

Unmapped environment variables are ignored, so the process environment cannot
inject arbitrary keys.

# Configuration Structure

  - UpstreamConfig: platform API base URL, token, rate limit, retry, breaker
  - PipelineConfig: page size, lock TTL, continuation queue, abort policy
  - KVConfig: lock and cursor backend (badger or nats)
  - QueueConfig: job transport (gochannel or nats) and router retry policy
  - NATSConfig: client URL and the optional embedded server
  - StoreConfig: local sink driver (duckdb or sqlite) and path
  - SchedulerConfig and Resources: which scopes run on which schedule
  - ServerConfig: ops HTTP API
  - LoggingConfig: zerolog level and format

# Environment Variables

Upstream:
  - UPSTREAM_URL: platform API base URL (required)
  - UPSTREAM_TOKEN: bearer token
  - UPSTREAM_TIMEOUT, UPSTREAM_RPS, UPSTREAM_BURST, UPSTREAM_MAX_RETRIES
  - UPSTREAM_SUCCESS_CODES: comma-separated envelope codes treated as success

Pipeline:
  - PAGE_SIZE (default: 1000), LOCK_TTL (default: 1h)
  - SYNC_QUEUE (default: sync-pages), RELEASE_ON_ABORT (default: true)

Storage:
  - KV_BACKEND: badger or nats (default: badger)
  - BADGER_PATH (default: /data/pagesync/kv), KV_BUCKET
  - STORE_DRIVER: duckdb or sqlite (default: duckdb)
  - STORE_PATH (default: /data/pagesync/records.duckdb)

Queue and broker:
  - QUEUE_TRANSPORT: gochannel or nats (default: gochannel); nats requires KV_BACKEND=nats
  - NATS_URL, NATS_EMBEDDED, NATS_STORE_DIR
  - QUEUE_RETRY_COUNT, QUEUE_POISON_TOPIC

Scheduler, server and logging:
  - SCHEDULER_ENABLED, SCHEDULER_CHECK_INTERVAL, SCHEDULER_TIMEZONE
  - HTTP_HOST, HTTP_PORT, RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

Scheduled resources can only be configured in the YAML file:

	resources:
	  - resource: friend-list
	    params: {account: acct1}
	    cron: "0 2 * * *"
	  - resource: account-list
	    every: 15m
*/
package config
