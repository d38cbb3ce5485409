// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/scope"
)

// State is a position in the page step state machine:
//
//	Idle -> LockAcquired -> PageFetched -> PageApplied -> {ChainNext | Finished | Aborted}
//
// Any state before PageApplied can also move straight to Aborted.
type State string

const (
	StateIdle         State = "idle"
	StateLockAcquired State = "lock_acquired"
	StatePageFetched  State = "page_fetched"
	StatePageApplied  State = "page_applied"
	StateChainNext    State = "chain_next"
	StateFinished     State = "finished"
	StateAborted      State = "aborted"
)

// Status is the typed result of a trigger or a page step.
type Status string

const (
	// StatusChained means the page was applied and the next page enqueued.
	StatusChained Status = "chained"

	// StatusFinished means the last page was applied and the lock released.
	StatusFinished Status = "finished"

	// StatusAlreadyRunning means another run holds the scope. Not an error.
	StatusAlreadyRunning Status = "already_running"

	// StatusStale means the job was for a page the run has already moved
	// past, typically a re-delivery. Nothing was written.
	StatusStale Status = "stale"

	// StatusAborted means the step failed; Err says why.
	StatusAborted Status = "aborted"
)

// Outcome reports what one invocation did. Failures never escape as panics;
// they are carried in Err with Status set to StatusAborted.
type Outcome struct {
	Status   Status
	State    State
	Scope    scope.Scope
	RunID    scope.RunID
	Cursor   cursor.Position // position the step started from
	Next     cursor.Position // position persisted by the step, if any
	Fetched  int
	Applied  int
	Released bool
	Err      error
}

// Started reports whether a trigger began (or continued) a chain.
func (o Outcome) Started() bool {
	return o.Status == StatusChained || o.Status == StatusFinished
}

// TriggerResult collapses the outcome into the trigger's three-way answer:
// started, already_running or error.
func (o Outcome) TriggerResult() string {
	switch {
	case o.Started():
		return "started"
	case o.Status == StatusAlreadyRunning:
		return "already_running"
	default:
		return "error"
	}
}
