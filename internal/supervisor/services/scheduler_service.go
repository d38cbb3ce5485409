// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package services

import (
	"context"
	"fmt"
)

// SchedulerManager is the scheduler lifecycle. *scheduler.Scheduler implements it.
type SchedulerManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService runs the trigger scheduler.
type SchedulerService struct {
	manager SchedulerManager
	ready   <-chan struct{}
	name    string
}

// NewSchedulerService wraps manager. When ready is non-nil the scheduler is
// not started until it is closed; with the in-process queue a continuation
// published before the consumer subscribes is lost.
func NewSchedulerService(manager SchedulerManager, ready <-chan struct{}) *SchedulerService {
	return &SchedulerService{
		manager: manager,
		ready:   ready,
		name:    "sync-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if s.ready != nil {
		select {
		case <-s.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return s.name
}
