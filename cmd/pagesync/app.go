// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/pagesync/internal/adapters"
	"github.com/tomtom215/pagesync/internal/api"
	"github.com/tomtom215/pagesync/internal/broker"
	"github.com/tomtom215/pagesync/internal/config"
	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/kv"
	"github.com/tomtom215/pagesync/internal/lock"
	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/queue"
	"github.com/tomtom215/pagesync/internal/scheduler"
	"github.com/tomtom215/pagesync/internal/store"
	"github.com/tomtom215/pagesync/internal/supervisor"
	"github.com/tomtom215/pagesync/internal/supervisor/services"
	"github.com/tomtom215/pagesync/internal/upstream"
)

// closer is a shutdown step, run in reverse order of registration.
type closer struct {
	name string
	fn   func() error
}

// app holds every constructed component of a Pagesync process.
type app struct {
	cfg *config.Config

	broker     *broker.EmbeddedServer
	conn       *broker.Conn
	kv         kv.Store
	records    *store.SQLStore
	locks      *lock.Manager
	cursors    *cursor.Store
	registry   *pipeline.Registry
	transport  *queue.Transport
	dispatcher *queue.Dispatcher
	runner     *pipeline.Runner
	trigger    *pipeline.Trigger
	consumer   *queue.Consumer
	scheduler  *scheduler.Scheduler
	handler    http.Handler
	tree       *supervisor.Tree

	closers []closer
}

// newApp builds the components in dependency order. On error everything
// already opened is closed again.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	if err := a.openNATS(); err != nil {
		return err
	}
	if err := a.openKV(ctx); err != nil {
		return err
	}
	if err := a.openRecords(); err != nil {
		return err
	}
	if err := a.buildPipeline(); err != nil {
		return err
	}
	if err := a.buildQueue(); err != nil {
		return err
	}
	if err := a.buildScheduler(); err != nil {
		return err
	}
	a.buildAPI()
	return a.buildTree()
}

func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close runs the shutdown steps in reverse order and logs their failures.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			logging.Error().Err(err).Str("component", c.name).Msg("Shutdown step failed")
		}
	}
	a.closers = nil
}

func (a *app) natsURL() string {
	if a.broker != nil {
		return a.broker.ClientURL()
	}
	return a.cfg.NATS.URL
}

func (a *app) openNATS() error {
	if a.cfg.NATS.EmbeddedServer {
		srv, err := broker.NewEmbeddedServer(a.cfg.EmbeddedNATS())
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		a.broker = srv
		a.onClose("nats-server", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}
	if !a.cfg.NeedsNATS() {
		return nil
	}

	conn, err := broker.Connect(broker.DefaultConnConfig(a.natsURL()))
	if err != nil {
		return err
	}
	a.conn = conn
	a.onClose("nats-conn", conn.Close)
	return nil
}

func (a *app) openKV(ctx context.Context) error {
	switch a.cfg.KV.Backend {
	case config.KVBackendNATS:
		s, err := kv.OpenNATS(ctx, a.conn.JS, a.cfg.KV.Bucket)
		if err != nil {
			return err
		}
		a.kv = s
	default:
		s, err := kv.OpenBadger(a.cfg.Badger())
		if err != nil {
			return err
		}
		a.kv = s
	}
	a.onClose("kv", a.kv.Close)

	a.locks = lock.NewManager(a.kv)
	a.cursors = cursor.NewStore(a.kv)
	return nil
}

func (a *app) openRecords() error {
	s, err := store.Open(a.cfg.SQLStore())
	if err != nil {
		return err
	}
	a.records = s
	a.onClose("record-store", s.Close)
	return nil
}

func (a *app) buildPipeline() error {
	client := upstream.NewClient(a.cfg.UpstreamClient())
	registry, err := adapters.NewRegistry(adapters.Builtin(), client, a.records)
	if err != nil {
		return fmt.Errorf("register resources: %w", err)
	}
	a.registry = registry
	// The dispatcher is attached once the transport exists.
	a.runner = pipeline.NewRunner(a.cfg.Runner(), registry, a.locks, a.cursors, nil)
	a.trigger = pipeline.NewTrigger(a.runner)
	return nil
}

func (a *app) buildQueue() error {
	logger := queue.Logger()
	switch a.cfg.Queue.Transport {
	case config.TransportNATS:
		t, err := queue.NewNATS(a.cfg.NATSTransport(a.natsURL()), logger)
		if err != nil {
			return err
		}
		a.transport = t
	default:
		a.transport = queue.NewGoChannel(logger)
	}
	a.onClose("queue-transport", a.transport.Close)

	a.dispatcher = queue.NewDispatcher(a.transport.Publisher)
	a.onClose("dispatcher", a.dispatcher.Close)
	a.runner.SetDispatcher(a.dispatcher)

	consumer, err := queue.NewConsumer(a.cfg.Consumer(), a.transport, a.runner, a.locks, logger)
	if err != nil {
		return err
	}
	a.consumer = consumer
	return nil
}

func (a *app) buildScheduler() error {
	schedCfg, entries := a.cfg.Schedule()
	s, err := scheduler.New(a.trigger, entries, schedCfg)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	a.scheduler = s
	return nil
}

func (a *app) healthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "record_store", Check: a.records.Ping},
		{Name: "queue_consumer", Check: func(context.Context) error {
			if !a.consumer.IsRunning() {
				return errors.New("consumer is not running")
			}
			return nil
		}},
	}
	if a.conn != nil {
		checks = append(checks, api.HealthCheck{Name: "nats", Check: func(context.Context) error {
			if !a.conn.NC.IsConnected() {
				return fmt.Errorf("nats connection is %s", a.conn.NC.Status())
			}
			return nil
		}})
	}
	return checks
}

func (a *app) buildAPI() {
	h := api.NewHandler(api.Deps{
		Firer:     a.trigger,
		Locks:     a.locks,
		Cursors:   a.cursors,
		Resources: a.registry,
		Checks:    a.healthChecks(),
		Ready:     a.consumer.Running(),
	}, a.cfg.Server.Timeout)
	a.handler = api.NewRouter(h, api.RateLimitConfig{
		Requests: a.cfg.Server.RateLimitReqs,
		Window:   a.cfg.Server.RateLimitWindow,
		Disabled: a.cfg.Server.RateLimitDisabled,
	})
}

func (a *app) buildTree() error {
	a.tree = supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	type entry struct {
		layer supervisor.Layer
		svc   suture.Service
	}
	entries := []entry{
		{supervisor.LayerPipeline, services.NewConsumerService(a.consumer)},
		{supervisor.LayerPipeline, services.NewSchedulerService(a.scheduler, a.consumer.Running())},
	}
	if gc, ok := a.kv.(*kv.BadgerStore); ok && !a.cfg.KV.BadgerInMemory {
		entries = append(entries, entry{supervisor.LayerStorage, services.NewBadgerGCService(gc, a.cfg.KV.BadgerGCInterval)})
	}
	if a.broker != nil {
		entries = append(entries, entry{supervisor.LayerStorage, services.NewBrokerWatchService(a.broker, 0)})
	}
	if a.cfg.Server.Enabled {
		addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
		server := api.NewServer(addr, a.handler, a.cfg.Server.Timeout)
		entries = append(entries, entry{supervisor.LayerAPI, services.NewHTTPServerService(server, 10*time.Second)})
		logging.Info().Str("addr", addr).Msg("Ops API enabled")
	}

	for _, e := range entries {
		if _, err := a.tree.Add(e.layer, e.svc); err != nil {
			return err
		}
	}
	return nil
}

// serve runs the supervisor tree until ctx is cancelled or a service
// terminates it, then reports services that failed to stop.
func (a *app) serve(ctx context.Context) error {
	err := a.tree.Serve(ctx)

	if report, rerr := a.tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services failed to stop within timeout")
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return err
}
