// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// Router is the queue consumer lifecycle. *queue.Consumer implements it.
type Router interface {
	Run(ctx context.Context) error
	Close() error
}

// ConsumerService runs the job router. A Watermill router cannot be run a
// second time once it has stopped, so a router that exits on its own is not
// restarted: the process should be restarted instead.
type ConsumerService struct {
	router Router
	name   string
}

// NewConsumerService wraps router.
func NewConsumerService(router Router) *ConsumerService {
	return &ConsumerService{router: router, name: "queue-consumer"}
}

// Serve implements suture.Service.
func (s *ConsumerService) Serve(ctx context.Context) error {
	err := s.router.Run(ctx)
	if ctx.Err() != nil {
		if cerr := s.router.Close(); cerr != nil {
			return fmt.Errorf("queue consumer close failed: %w", cerr)
		}
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("queue consumer stopped: %w: %w", suture.ErrTerminateSupervisorTree, err)
	}
	return fmt.Errorf("queue consumer stopped: %w", suture.ErrTerminateSupervisorTree)
}

// String implements fmt.Stringer.
func (s *ConsumerService) String() string {
	return s.name
}
