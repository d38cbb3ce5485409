// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"errors"
	"fmt"

	"github.com/tomtom215/pagesync/internal/cursor"
)

var (
	// ErrUnknownResource is returned for a resource type with no adapter.
	ErrUnknownResource = errors.New("pipeline: unknown resource")

	// ErrInvalidJob is returned for queue payloads that fail validation.
	ErrInvalidJob = errors.New("pipeline: invalid job")

	// ErrLockLost is returned when a step finds its run no longer owns the lock.
	ErrLockLost = errors.New("pipeline: run no longer owns the scope lock")

	// ErrAlreadyRegistered is returned when two adapters claim one resource.
	ErrAlreadyRegistered = errors.New("pipeline: resource already registered")
)

// ErrorKind classifies why a step aborted.
type ErrorKind string

const (
	KindInvalid       ErrorKind = "invalid"
	KindLock          ErrorKind = "lock"
	KindLockLost      ErrorKind = "lock_lost"
	KindUpstreamFetch ErrorKind = "upstream_fetch"
	KindApply         ErrorKind = "apply"
	KindCursorPersist ErrorKind = "cursor_persist"
	KindDispatch      ErrorKind = "dispatch"
)

// StepError is the error carried by an aborted Outcome.
type StepError struct {
	Kind     ErrorKind
	ScopeKey string
	RunID    string
	Cursor   cursor.Position
	Err      error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s failure for %s run %s at page %d: %v", e.Kind, e.ScopeKey, e.RunID, e.Cursor.Page, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" if err is not a StepError.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
