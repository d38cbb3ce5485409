// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}

	if err := c.validatePipeline(); err != nil {
		return err
	}

	if err := c.validateKV(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if err := c.validateScheduler(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateUpstream() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	if err := validateHTTPURL(c.Upstream.URL, "UPSTREAM_URL"); err != nil {
		return err
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %v", c.Upstream.Timeout)
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("UPSTREAM_RPS must not be negative, got %v", c.Upstream.RequestsPerSecond)
	}
	if c.Upstream.BreakerFailureRatio <= 0 || c.Upstream.BreakerFailureRatio > 1 {
		return fmt.Errorf("UPSTREAM_BREAKER_RATIO must be in (0, 1], got %v", c.Upstream.BreakerFailureRatio)
	}
	if len(c.Upstream.SuccessCodes) == 0 {
		return fmt.Errorf("UPSTREAM_SUCCESS_CODES must list at least one code")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.PageSize < 1 || c.Pipeline.PageSize > 10000 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 10000, got %d", c.Pipeline.PageSize)
	}
	if c.Pipeline.LockTTL < time.Minute {
		return fmt.Errorf("LOCK_TTL must be at least 1m, got %v", c.Pipeline.LockTTL)
	}
	if err := validateTopic(c.Pipeline.Queue, "SYNC_QUEUE"); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateKV() error {
	switch c.KV.Backend {
	case KVBackendBadger:
		if !c.KV.BadgerInMemory && c.KV.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when KV_BACKEND=badger")
		}
		if c.KV.BadgerGCRatio <= 0 || c.KV.BadgerGCRatio >= 1 {
			return fmt.Errorf("kv.badger_gc_ratio must be in (0, 1), got %v", c.KV.BadgerGCRatio)
		}
	case KVBackendNATS:
		if c.KV.Bucket == "" {
			return fmt.Errorf("KV_BUCKET is required when KV_BACKEND=nats")
		}
	default:
		return fmt.Errorf("KV_BACKEND must be %q or %q, got %q", KVBackendBadger, KVBackendNATS, c.KV.Backend)
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Transport {
	case TransportGoChannel, TransportNATS:
	default:
		return fmt.Errorf("QUEUE_TRANSPORT must be %q or %q, got %q", TransportGoChannel, TransportNATS, c.Queue.Transport)
	}
	if c.Queue.RetryCount < 0 {
		return fmt.Errorf("QUEUE_RETRY_COUNT must not be negative, got %d", c.Queue.RetryCount)
	}
	if c.Queue.PoisonTopic != "" {
		if err := validateTopic(c.Queue.PoisonTopic, "QUEUE_POISON_TOPIC"); err != nil {
			return err
		}
		if c.Queue.PoisonTopic == c.Pipeline.Queue {
			return fmt.Errorf("QUEUE_POISON_TOPIC must differ from SYNC_QUEUE")
		}
	}
	if c.Queue.Transport == TransportNATS {
		// Workers sharing the queue must also share the scope locks.
		if c.KV.Backend != KVBackendNATS {
			return fmt.Errorf("QUEUE_TRANSPORT=nats requires KV_BACKEND=nats, got %q", c.KV.Backend)
		}
		if c.Queue.SubscribersCount < 1 {
			return fmt.Errorf("QUEUE_SUBSCRIBERS must be at least 1, got %d", c.Queue.SubscribersCount)
		}
		if c.Queue.AckWait <= 0 {
			return fmt.Errorf("QUEUE_ACK_WAIT must be positive, got %v", c.Queue.AckWait)
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NeedsNATS() {
		return nil
	}
	if c.NATS.EmbeddedServer {
		if c.NATS.StoreDir == "" {
			return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
		}
		if c.NATS.Port < -1 || c.NATS.Port > 65535 {
			return fmt.Errorf("NATS_PORT must be -1 or a valid port, got %d", c.NATS.Port)
		}
		return nil
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreDriverDuckDB, StoreDriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverDuckDB, StoreDriverSQLite, c.Store.Driver)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.CheckInterval < time.Second {
		return fmt.Errorf("SCHEDULER_CHECK_INTERVAL must be at least 1s, got %v", c.Scheduler.CheckInterval)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("SCHEDULER_TIMEZONE is invalid: %w", err)
		}
	}
	for i, r := range c.Resources {
		if r.Resource == "" {
			return fmt.Errorf("resources[%d]: resource is required", i)
		}
		if (r.Cron == "") == (r.Every <= 0) {
			return fmt.Errorf("resources[%d] (%s): exactly one of cron or every is required", i, r.Resource)
		}
		if r.PageSize < 0 {
			return fmt.Errorf("resources[%d] (%s): page_size must not be negative", i, r.Resource)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled {
		if c.Server.RateLimitReqs < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.Server.RateLimitReqs)
		}
		if c.Server.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %v", c.Server.RateLimitWindow)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
