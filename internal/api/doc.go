// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package api provides the operations HTTP surface for Pagesync.

The API is deliberately small. It exists so operators can start a run by hand
and look at the state the pipeline keeps in the KV store, not to serve
application traffic.

Routes:

	GET  /health                     liveness and dependency checks
	GET  /metrics                    Prometheus exposition
	GET  /api/v1/resources           registered resource types
	POST /api/v1/sync/{resource}     manual trigger
	GET  /api/v1/locks/{resource}    current lock holder of a scope
	GET  /api/v1/cursors/{resource}  persisted cursor of a run

Scope parameters are passed as query parameters on every scoped route, so
friend-list for account acct1 is /api/v1/locks/friend-list?account=acct1. The
trigger also accepts them in the JSON body; body values win over the query.

Every JSON response uses the APIResponse envelope:

	{"status":"success","data":{...},"metadata":{"timestamp":"..."}}
	{"status":"error","error":{"code":"...","message":"..."},"metadata":{...}}

Trigger status codes:

	202 started          the first page ran and the chain continues or finished
	409 already_running  another run holds the scope lock
	400 invalid request  bad scope, run id or page size
	404 unknown resource no adapter is registered for the resource
	500 error            the first page step aborted
	503 not ready        the queue consumer has not started yet
*/
package api
