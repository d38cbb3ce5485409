// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pagesync/config.yaml",
	"/etc/pagesync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			Timeout:              30 * time.Second,
			PageParam:            "page",
			SizeParam:            "limit",
			PageBase:             1,
			CodePath:             "code",
			MessagePath:          "msg",
			SuccessCodes:         []int{0, 200},
			RequestsPerSecond:    5,
			Burst:                5,
			MaxRetries:           5,
			RetryInitial:         time.Second,
			RetryMaxBackoff:      30 * time.Second,
			BreakerMinRequests:   10,
			BreakerFailureRatio:  0.6,
			BreakerOpenTimeout:   2 * time.Minute,
			BreakerCountInterval: time.Minute,
		},
		Pipeline: PipelineConfig{
			PageSize:       1000,
			LockTTL:        time.Hour,
			Queue:          "sync-pages",
			ReleaseOnAbort: true,
		},
		KV: KVConfig{
			Backend:          KVBackendBadger,
			BadgerPath:       "/data/pagesync/kv",
			BadgerSyncWrites: true,
			BadgerGCInterval: 10 * time.Minute,
			BadgerGCRatio:    0.5,
			Bucket:           "pagesync",
		},
		Queue: QueueConfig{
			Transport:            TransportGoChannel,
			SubscribersCount:     4,
			DurablePrefix:        "pagesync",
			QueueGroup:           "pagesync",
			AckWait:              5 * time.Minute,
			MaxDeliver:           10,
			RetryCount:           3,
			RetryInitialInterval: time.Second,
			RetryMaxInterval:     30 * time.Second,
			PoisonTopic:          "sync-pages-poison",
			CloseTimeout:         30 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "/data/pagesync/jetstream",
			MaxMemory:      256 << 20, // 256MB
			MaxStore:       4 << 30,   // 4GB
		},
		Store: StoreConfig{
			Driver: StoreDriverDuckDB,
			Path:   "/data/pagesync/records.duckdb",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			CheckInterval:      15 * time.Second,
			FireTimeout:        5 * time.Minute,
			MaxConcurrentFires: 4,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8088,
			Timeout:         30 * time.Second,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration in three layers: defaults, the config
// file, then environment variables. The result is validated.
func LoadWithKoanf() (*Config, error) {
	return loadFrom(findConfigFile())
}

// loadFrom is LoadWithKoanf with the file path injected. An empty path skips
// the file layer.
func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Unmapped variables transform to "" and are skipped by the provider.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns CONFIG_PATH if it exists, otherwise the first
// default path that exists, otherwise "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are keys that may arrive as comma-separated strings.
var sliceConfigPaths = []string{
	"upstream.success_codes",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to config paths.
var envMappings = map[string]string{
	"upstream_url":           "upstream.url",
	"upstream_token":         "upstream.token",
	"upstream_timeout":       "upstream.timeout",
	"upstream_page_param":    "upstream.page_param",
	"upstream_size_param":    "upstream.size_param",
	"upstream_page_base":     "upstream.page_base",
	"upstream_success_codes": "upstream.success_codes",
	"upstream_rps":           "upstream.requests_per_second",
	"upstream_burst":         "upstream.burst",
	"upstream_max_retries":   "upstream.max_retries",
	"upstream_retry_initial": "upstream.retry_initial",
	"upstream_retry_max":     "upstream.retry_max_backoff",
	"upstream_breaker_ratio": "upstream.breaker_failure_ratio",
	"upstream_breaker_open":  "upstream.breaker_open_timeout",

	"page_size":        "pipeline.page_size",
	"lock_ttl":         "pipeline.lock_ttl",
	"sync_queue":       "pipeline.queue",
	"release_on_abort": "pipeline.release_on_abort",

	"kv_backend":         "kv.backend",
	"kv_bucket":          "kv.bucket",
	"badger_path":        "kv.badger_path",
	"badger_in_memory":   "kv.badger_in_memory",
	"badger_sync_writes": "kv.badger_sync_writes",
	"badger_gc_interval": "kv.badger_gc_interval",

	"queue_transport":      "queue.transport",
	"queue_subscribers":    "queue.subscribers_count",
	"queue_ack_wait":       "queue.ack_wait",
	"queue_max_deliver":    "queue.max_deliver",
	"queue_retry_count":    "queue.retry_count",
	"queue_retry_interval": "queue.retry_initial_interval",
	"queue_poison_topic":   "queue.poison_topic",
	"queue_close_timeout":  "queue.close_timeout",

	"nats_url":       "nats.url",
	"nats_embedded":  "nats.embedded_server",
	"nats_host":      "nats.host",
	"nats_port":      "nats.port",
	"nats_store_dir": "nats.store_dir",
	"nats_max_mem":   "nats.max_memory",
	"nats_max_store": "nats.max_store",

	"store_driver": "store.driver",
	"store_path":   "store.path",

	"scheduler_enabled":        "scheduler.enabled",
	"scheduler_check_interval": "scheduler.check_interval",
	"scheduler_fire_timeout":   "scheduler.fire_timeout",
	"scheduler_max_concurrent": "scheduler.max_concurrent_fires",
	"scheduler_run_on_start":   "scheduler.run_on_start",
	"scheduler_timezone":       "scheduler.timezone",

	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its config path, or
// "" to ignore it.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
