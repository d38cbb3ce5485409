// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/lock"
	"github.com/tomtom215/pagesync/internal/scope"
	"github.com/tomtom215/pagesync/internal/validation"
)

// Job is the queue payload for one page step. It carries everything the step
// needs, so a worker never consults in-process state from the run that
// enqueued it.
type Job struct {
	Scope      scope.Scope     `json:"scope"`
	RunID      scope.RunID     `json:"run_id" validate:"required,runid"`
	Cursor     cursor.Position `json:"cursor"`
	PageSize   int             `json:"page_size" validate:"gt=0,lte=10000"`
	LockKey    string          `json:"lock_key" validate:"required"`
	Queue      string          `json:"queue,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob builds the first job of a run.
func NewJob(s scope.Scope, runID scope.RunID, pos cursor.Position, pageSize int, queue string) Job {
	return Job{
		Scope:    s,
		RunID:    runID,
		Cursor:   pos,
		PageSize: pageSize,
		LockKey:  lock.Key(s),
		Queue:    queue,
	}
}

// Continue returns the job for the page at next.
func (j Job) Continue(next cursor.Position, now time.Time) Job {
	c := j
	c.Cursor = next
	c.EnqueuedAt = now.UTC()
	return c
}

// DedupKey identifies this page of this run. Re-deliveries share the key.
func (j Job) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", j.Scope.Key(), j.RunID, j.Cursor.Page)
}

// Validate checks that the job is self-consistent.
func (j Job) Validate() error {
	if err := validation.GetValidator().Struct(j); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := scope.ValidateRunID(j.RunID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if j.Cursor.Page < 0 {
		return fmt.Errorf("%w: negative cursor page %d", ErrInvalidJob, j.Cursor.Page)
	}
	if j.LockKey != lock.Key(j.Scope) {
		return fmt.Errorf("%w: lock key %q does not match scope %q", ErrInvalidJob, j.LockKey, j.Scope.Key())
	}
	return nil
}

// Marshal encodes the job for the queue.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses and validates a queue payload.
func DecodeJob(payload []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
