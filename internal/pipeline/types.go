// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/lock"
	"github.com/tomtom215/pagesync/internal/scope"
)

// SyncRecord is one upstream entity reduced to its stable external id and
// its raw payload. The local store upserts by (resource, ExternalID).
type SyncRecord struct {
	ExternalID string          `json:"external_id"`
	Payload    json.RawMessage `json:"payload"`
}

// PageRequest asks an adapter for one page of a scope.
type PageRequest struct {
	Scope    scope.Scope
	RunID    scope.RunID
	Cursor   cursor.Position
	PageSize int
}

// PageResult is one fetched page.
type PageResult struct {
	Records []SyncRecord

	// More is true iff the page came back full. A short page ends the chain;
	// an exact multiple of the page size costs one extra, empty fetch.
	More bool

	// Next is the cursor to persist once Records are applied.
	Next cursor.Position
}

// NewPageResult builds the result for req from the fetched records.
func NewPageResult(req PageRequest, records []SyncRecord) PageResult {
	lastID := ""
	if len(records) > 0 {
		lastID = records[len(records)-1].ExternalID
	}
	return PageResult{
		Records: records,
		More:    len(records) == req.PageSize,
		Next:    req.Cursor.Next(lastID),
	}
}

// Fetcher reads one page from the upstream. It must not write anywhere.
type Fetcher interface {
	Fetch(ctx context.Context, req PageRequest) (PageResult, error)
}

// Sink upserts records into the local store. Applying the same records twice
// must leave the store in the same state as applying them once.
type Sink interface {
	Apply(ctx context.Context, records []SyncRecord) (int, error)
}

// Adapter binds one resource type to the generic runner.
type Adapter interface {
	Fetcher
	Sink
	Resource() string
}

// ScopeValidator is implemented by adapters that restrict scope parameters.
type ScopeValidator interface {
	ValidateScope(s scope.Scope) error
}

// RunMode decides which run identity a trigger uses when the caller gives none.
type RunMode string

const (
	// RunModeFresh generates a new run id per trigger, so each run starts from
	// the default cursor.
	RunModeFresh RunMode = "fresh"

	// RunModeResume uses scope.ContinuousRunID, so the cursor carries over
	// from one run to the next.
	RunModeResume RunMode = "resume"
)

// RunModer is implemented by adapters that do not use RunModeFresh.
type RunModer interface {
	RunMode() RunMode
}

// PageSizer is implemented by adapters with their own page size.
type PageSizer interface {
	PageSize() int
}

// Locker is the lock manager contract the runner depends on.
type Locker interface {
	TryAcquire(ctx context.Context, s scope.Scope, runID scope.RunID, ttl time.Duration) (lock.Result, error)
	Release(ctx context.Context, s scope.Scope, runID scope.RunID) (bool, error)
	Owner(ctx context.Context, s scope.Scope) (scope.RunID, bool, error)
}

// CursorStore is the cursor contract the runner depends on.
type CursorStore interface {
	Get(ctx context.Context, s scope.Scope, runID scope.RunID, def cursor.Position) (cursor.Position, error)
	Set(ctx context.Context, s scope.Scope, runID scope.RunID, p cursor.Position) error
}

// Dispatcher enqueues the continuation job for the next page.
type Dispatcher interface {
	Enqueue(ctx context.Context, queue string, job Job) error
}
