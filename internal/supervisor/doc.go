// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package supervisor runs the long-lived Pagesync services under a suture v4
tree.

	RootSupervisor ("pagesync")
	├── storage-layer
	│   ├── BrokerWatchService (embedded NATS, when enabled)
	│   └── BadgerGCService (badger KV backend)
	├── pipeline-layer
	│   ├── ConsumerService (queue router stepping jobs)
	│   └── SchedulerService (cron and interval triggers)
	└── api-layer
	    └── HTTPServerService (ops API)

A crash in the pipeline layer leaves the ops API answering, and the API layer
can restart without dropping in-flight page steps.

# What Is NOT Supervised

Stores are opened before the tree starts and closed after it stops: BadgerDB,
the NATS connection, and the SQL sink are libraries, not loops, and their
lifetime has to cover every service. The embedded NATS server is likewise
started by main; the storage layer only watches it.

# Service Interface

Return behavior follows suture:
  - nil: stopped cleanly, not restarted
  - error: crashed, restarted with backoff
  - ctx.Err(): shutdown requested
*/
package supervisor
