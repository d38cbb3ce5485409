// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/pagesync/internal/logging"
)

// GarbageCollector reclaims storage. *kv.BadgerStore implements it.
type GarbageCollector interface {
	RunGC() error
}

// BadgerGCService runs value-log GC on a fixed interval. GC errors are logged
// and retried at the next tick rather than restarting the service.
type BadgerGCService struct {
	gc       GarbageCollector
	interval time.Duration
	name     string
}

// NewBadgerGCService wraps gc. A non-positive interval means 10m.
func NewBadgerGCService(gc GarbageCollector, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &BadgerGCService{gc: gc, interval: interval, name: "badger-gc"}
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.gc.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Badger value log GC failed")
				continue
			}
			logging.Debug().Dur("duration", time.Since(start)).Msg("Badger value log GC complete")
		}
	}
}

// String implements fmt.Stringer.
func (s *BadgerGCService) String() string {
	return s.name
}

// Broker is the embedded server. *broker.EmbeddedServer implements it.
type Broker interface {
	IsRunning() bool
}

// BrokerWatchService reports an embedded NATS server that stopped on its own.
// The server is started and shut down by main so that it outlives every
// client; this service only terminates the tree when it disappears, since
// nothing in the pipeline can make progress without it.
type BrokerWatchService struct {
	broker   Broker
	interval time.Duration
	name     string
}

// NewBrokerWatchService wraps broker. A non-positive interval means 5s.
func NewBrokerWatchService(broker Broker, interval time.Duration) *BrokerWatchService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BrokerWatchService{broker: broker, interval: interval, name: "nats-broker-watch"}
}

// Serve implements suture.Service.
func (s *BrokerWatchService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.broker.IsRunning() {
				return fmt.Errorf("embedded NATS server stopped: %w", suture.ErrTerminateSupervisorTree)
			}
		}
	}
}

// String implements fmt.Stringer.
func (s *BrokerWatchService) String() string {
	return s.name
}
