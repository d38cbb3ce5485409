// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package config

import (
	"os"

	"github.com/tomtom215/pagesync/internal/broker"
	"github.com/tomtom215/pagesync/internal/kv"
	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/queue"
	"github.com/tomtom215/pagesync/internal/scheduler"
	"github.com/tomtom215/pagesync/internal/store"
	"github.com/tomtom215/pagesync/internal/upstream"
)

// UpstreamClient returns the upstream client configuration.
func (c *Config) UpstreamClient() upstream.Config {
	u := c.Upstream
	return upstream.Config{
		BaseURL:              u.URL,
		Token:                u.Token,
		Timeout:              u.Timeout,
		PageParam:            u.PageParam,
		SizeParam:            u.SizeParam,
		PageBase:             u.PageBase,
		CodePath:             u.CodePath,
		MessagePath:          u.MessagePath,
		SuccessCodes:         append([]int(nil), u.SuccessCodes...),
		RequestsPerSecond:    u.RequestsPerSecond,
		Burst:                u.Burst,
		MaxRetries:           u.MaxRetries,
		RetryInitial:         u.RetryInitial,
		RetryMaxBackoff:      u.RetryMaxBackoff,
		BreakerMinRequests:   u.BreakerMinRequests,
		BreakerFailureRatio:  u.BreakerFailureRatio,
		BreakerOpenTimeout:   u.BreakerOpenTimeout,
		BreakerCountInterval: u.BreakerCountInterval,
	}
}

// Runner returns the page runner configuration.
func (c *Config) Runner() pipeline.Config {
	return pipeline.Config{
		PageSize:       c.Pipeline.PageSize,
		LockTTL:        c.Pipeline.LockTTL,
		Queue:          c.Pipeline.Queue,
		ReleaseOnAbort: c.Pipeline.ReleaseOnAbort,
	}
}

// Badger returns the embedded KV configuration.
func (c *Config) Badger() kv.BadgerConfig {
	return kv.BadgerConfig{
		Path:       c.KV.BadgerPath,
		InMemory:   c.KV.BadgerInMemory,
		SyncWrites: c.KV.BadgerSyncWrites,
		GCRatio:    c.KV.BadgerGCRatio,
	}
}

// EmbeddedNATS returns the embedded server configuration.
func (c *Config) EmbeddedNATS() broker.ServerConfig {
	cfg := broker.DefaultServerConfig()
	cfg.Host = c.NATS.Host
	cfg.Port = c.NATS.Port
	cfg.StoreDir = c.NATS.StoreDir
	cfg.JetStreamMaxMem = c.NATS.MaxMemory
	cfg.JetStreamMaxStore = c.NATS.MaxStore
	return cfg
}

// NATSTransport returns the JetStream transport configuration for a server
// reachable at url.
func (c *Config) NATSTransport(url string) queue.NATSConfig {
	cfg := queue.DefaultNATSConfig(url)
	cfg.DurablePrefix = c.Queue.DurablePrefix
	cfg.QueueGroup = c.Queue.QueueGroup
	cfg.SubscribersCount = c.Queue.SubscribersCount
	cfg.AckWait = c.Queue.AckWait
	cfg.MaxDeliver = c.Queue.MaxDeliver
	cfg.CloseTimeout = c.Queue.CloseTimeout
	return cfg
}

// Consumer returns the queue router configuration.
func (c *Config) Consumer() queue.ConsumerConfig {
	cfg := queue.DefaultConsumerConfig()
	cfg.Queue = c.Pipeline.Queue
	cfg.PoisonQueue = c.Queue.PoisonTopic
	cfg.CloseTimeout = c.Queue.CloseTimeout
	cfg.RetryMaxRetries = c.Queue.RetryCount
	cfg.RetryInitialInterval = c.Queue.RetryInitialInterval
	cfg.RetryMaxInterval = c.Queue.RetryMaxInterval
	return cfg
}

// SQLStore returns the local sink configuration.
func (c *Config) SQLStore() store.Config {
	return store.Config{Driver: c.Store.Driver, Path: c.Store.Path}
}

// Schedule returns the scheduler configuration and its entries.
func (c *Config) Schedule() (scheduler.Config, []scheduler.Entry) {
	cfg := scheduler.Config{
		CheckInterval:      c.Scheduler.CheckInterval,
		FireTimeout:        c.Scheduler.FireTimeout,
		MaxConcurrentFires: c.Scheduler.MaxConcurrentFires,
		RunOnStart:         c.Scheduler.RunOnStart,
		Timezone:           c.Scheduler.Timezone,
		Enabled:            c.Scheduler.Enabled,
	}
	entries := make([]scheduler.Entry, 0, len(c.Resources))
	for _, r := range c.Resources {
		entries = append(entries, scheduler.Entry{
			Resource: r.Resource,
			Params:   r.Params,
			Cron:     r.Cron,
			Every:    r.Every,
			PageSize: r.PageSize,
		})
	}
	return cfg, entries
}

// Log returns the zerolog configuration.
func (c *Config) Log() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.Caller = c.Logging.Caller
	cfg.Output = os.Stderr
	return cfg
}
