// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"context"

	"github.com/tomtom215/pagesync/internal/metrics"
	"github.com/tomtom215/pagesync/internal/scope"
)

// Trigger sources, used as a metrics label and in logs.
const (
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

// FireRequest asks for a run of one resource scope.
type FireRequest struct {
	Resource string
	Params   map[string]string
	RunID    scope.RunID // optional
	PageSize int         // optional
	Source   string
}

// Firer is the entry point shared by the scheduler, the ops API and tests.
// Anything that can start a run implements it.
type Firer interface {
	Fire(ctx context.Context, req FireRequest) Outcome
}

// Trigger starts runs through a Runner.
type Trigger struct {
	runner *Runner
}

// NewTrigger creates a Trigger bound to runner.
func NewTrigger(runner *Runner) *Trigger {
	return &Trigger{runner: runner}
}

// Fire builds the scope, acquires its lock and executes the first page.
// The returned outcome's TriggerResult is started, already_running or error.
func (t *Trigger) Fire(ctx context.Context, req FireRequest) Outcome {
	source := req.Source
	if source == "" {
		source = SourceManual
	}

	s, err := scope.New(req.Resource, req.Params)
	if err != nil {
		out := Outcome{
			Status: StatusAborted,
			State:  StateIdle,
			Scope:  scope.Scope{Resource: req.Resource},
			RunID:  req.RunID,
			Err:    &StepError{Kind: KindInvalid, ScopeKey: req.Resource, RunID: string(req.RunID), Err: err},
		}
		metrics.RecordTrigger(req.Resource, source, out.TriggerResult())
		return out
	}
	if req.RunID != "" {
		if err := scope.ValidateRunID(req.RunID); err != nil {
			out := Outcome{
				Status: StatusAborted,
				State:  StateIdle,
				Scope:  s,
				RunID:  req.RunID,
				Err:    &StepError{Kind: KindInvalid, ScopeKey: s.Key(), RunID: string(req.RunID), Err: err},
			}
			metrics.RecordTrigger(s.Resource, source, out.TriggerResult())
			return out
		}
	}

	out := t.runner.Start(ctx, StartRequest{Scope: s, RunID: req.RunID, PageSize: req.PageSize})
	metrics.RecordTrigger(s.Resource, source, out.TriggerResult())
	return out
}
