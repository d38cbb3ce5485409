// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package lock implements the per-scope run lock: at most one chain of page
// jobs may hold a given resource scope at a time.
//
// A lock is a TTL entry keyed by the scope whose value is the owning run id.
// It is created once per run, never refreshed, released by its owner when the
// chain ends, and otherwise left to expire so a crashed run cannot block the
// scope forever.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/pagesync/internal/kv"
	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/metrics"
	"github.com/tomtom215/pagesync/internal/scope"
)

// DefaultTTL bounds how long a crashed run can keep its scope locked.
const DefaultTTL = time.Hour

const keyPrefix = "lock/"

// ErrInvalidTTL is returned for a non-positive TTL.
var ErrInvalidTTL = errors.New("lock: ttl must be positive")

// Result is the typed outcome of TryAcquire.
type Result int

const (
	// Acquired means the caller now owns the scope.
	Acquired Result = iota

	// AlreadyRunning means another run holds a live lock on the scope.
	AlreadyRunning
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case AlreadyRunning:
		return "already_running"
	default:
		return "unknown"
	}
}

// Manager issues and releases scope locks against a kv.Store.
type Manager struct {
	store kv.Store
}

// NewManager creates a lock manager on store.
func NewManager(store kv.Store) *Manager {
	return &Manager{store: store}
}

// Key returns the store key holding the lock for s.
func Key(s scope.Scope) string {
	return keyPrefix + s.Key()
}

// TryAcquire atomically takes the lock for s on behalf of runID.
// A live lock held by anyone, including runID itself, yields AlreadyRunning.
func (m *Manager) TryAcquire(ctx context.Context, s scope.Scope, runID scope.RunID, ttl time.Duration) (Result, error) {
	if ttl <= 0 {
		return AlreadyRunning, ErrInvalidTTL
	}
	if err := scope.ValidateRunID(runID); err != nil {
		return AlreadyRunning, err
	}

	ok, err := m.store.SetIfAbsent(ctx, Key(s), []byte(runID), ttl)
	if err != nil {
		metrics.RecordLockAcquire(s.Resource, "error")
		return AlreadyRunning, fmt.Errorf("acquire lock for %s: %w", s.Key(), err)
	}
	if !ok {
		metrics.RecordLockAcquire(s.Resource, AlreadyRunning.String())
		return AlreadyRunning, nil
	}

	metrics.RecordLockAcquire(s.Resource, Acquired.String())
	logging.Debug().
		Str(logging.FieldScope, s.Key()).
		Str(logging.FieldRunID, string(runID)).
		Dur("ttl", ttl).
		Msg("Lock acquired")
	return Acquired, nil
}

// Release deletes the lock only if runID still owns it. It reports whether a
// lock was actually removed; releasing a lock that expired or was taken over
// by another run is a no-op.
func (m *Manager) Release(ctx context.Context, s scope.Scope, runID scope.RunID) (bool, error) {
	released, err := m.store.CompareAndDelete(ctx, Key(s), []byte(runID))
	if err != nil {
		return false, fmt.Errorf("release lock for %s: %w", s.Key(), err)
	}
	if released {
		metrics.RecordLockRelease(s.Resource, "released")
		logging.Debug().
			Str(logging.FieldScope, s.Key()).
			Str(logging.FieldRunID, string(runID)).
			Msg("Lock released")
	} else {
		metrics.RecordLockRelease(s.Resource, "not_owner")
	}
	return released, nil
}

// IsHeld reports whether any live lock exists for s.
func (m *Manager) IsHeld(ctx context.Context, s scope.Scope) (bool, error) {
	_, held, err := m.Owner(ctx, s)
	return held, err
}

// Owner returns the run id currently holding the lock for s.
func (m *Manager) Owner(ctx context.Context, s scope.Scope) (scope.RunID, bool, error) {
	v, held, err := m.store.Get(ctx, Key(s))
	if err != nil {
		return "", false, fmt.Errorf("read lock for %s: %w", s.Key(), err)
	}
	if !held {
		return "", false, nil
	}
	return scope.RunID(v), true, nil
}
