// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package services provides suture.Service wrappers for Pagesync components.

Each wrapper translates a component lifecycle (Start/Stop, Run/Close,
ListenAndServe/Shutdown, a periodic task) into suture's Serve(ctx) pattern and
names itself through fmt.Stringer for supervisor logs.

  - HTTPServerService: ops API, graceful shutdown on cancel
  - ConsumerService: queue router; terminates the tree if the router exits
  - SchedulerService: trigger scheduler, optionally gated on consumer readiness
  - BadgerGCService: periodic value-log GC for the badger KV backend
  - BrokerWatchService: terminates the tree if the embedded NATS server dies
*/
package services
