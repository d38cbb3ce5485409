// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package config

import "time"

// Config holds all application configuration.
type Config struct {
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	KV        KVConfig        `koanf:"kv"`
	Queue     QueueConfig     `koanf:"queue"`
	NATS      NATSConfig      `koanf:"nats"`
	Store     StoreConfig     `koanf:"store"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`

	// Resources lists the scopes the scheduler fires. Manual triggers work
	// for any registered resource whether or not it is listed here.
	Resources []ResourceConfig `koanf:"resources"`
}

// UpstreamConfig configures the platform API client.
type UpstreamConfig struct {
	URL     string        `koanf:"url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`

	PageParam string `koanf:"page_param"`
	SizeParam string `koanf:"size_param"`
	// PageBase is the index the platform gives its first page.
	PageBase int `koanf:"page_base"`

	CodePath     string `koanf:"code_path"`
	MessagePath  string `koanf:"message_path"`
	SuccessCodes []int  `koanf:"success_codes"`

	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`

	MaxRetries      uint          `koanf:"max_retries"`
	RetryInitial    time.Duration `koanf:"retry_initial"`
	RetryMaxBackoff time.Duration `koanf:"retry_max_backoff"`

	BreakerMinRequests   uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio  float64       `koanf:"breaker_failure_ratio"`
	BreakerOpenTimeout   time.Duration `koanf:"breaker_open_timeout"`
	BreakerCountInterval time.Duration `koanf:"breaker_count_interval"`
}

// PipelineConfig tunes the page runner.
type PipelineConfig struct {
	// PageSize applies to resources that do not set their own.
	PageSize int `koanf:"page_size"`

	// LockTTL bounds how long a crashed run keeps its scope locked.
	LockTTL time.Duration `koanf:"lock_ttl"`

	// Queue is the topic continuation jobs travel on.
	Queue string `koanf:"queue"`

	// ReleaseOnAbort frees the scope lock as soon as a step fails.
	ReleaseOnAbort bool `koanf:"release_on_abort"`
}

// KV backends.
const (
	KVBackendBadger = "badger"
	KVBackendNATS   = "nats"
)

// KVConfig selects where locks and cursors live.
type KVConfig struct {
	// Backend is badger (single process) or nats (shared JetStream bucket).
	Backend string `koanf:"backend"`

	BadgerPath       string        `koanf:"badger_path"`
	BadgerInMemory   bool          `koanf:"badger_in_memory"`
	BadgerSyncWrites bool          `koanf:"badger_sync_writes"`
	BadgerGCInterval time.Duration `koanf:"badger_gc_interval"`
	BadgerGCRatio    float64       `koanf:"badger_gc_ratio"`

	// Bucket is the JetStream KV bucket for the nats backend.
	Bucket string `koanf:"bucket"`
}

// Queue transports.
const (
	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// QueueConfig configures job transport and the consuming router.
type QueueConfig struct {
	// Transport is gochannel (in-process) or nats (JetStream).
	Transport string `koanf:"transport"`

	SubscribersCount int           `koanf:"subscribers_count"`
	DurablePrefix    string        `koanf:"durable_prefix"`
	QueueGroup       string        `koanf:"queue_group"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`

	RetryCount           int           `koanf:"retry_count"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`

	// PoisonTopic receives jobs that failed every retry. Empty disables it.
	PoisonTopic  string        `koanf:"poison_topic"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// NATSConfig configures the NATS client and the optional embedded server.
type NATSConfig struct {
	URL string `koanf:"url"`

	// EmbeddedServer starts a JetStream-enabled server in-process, needed
	// whenever the kv backend or queue transport is nats and no external
	// server is available.
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// Store drivers.
const (
	StoreDriverDuckDB = "duckdb"
	StoreDriverSQLite = "sqlite"
)

// StoreConfig configures the local sink for synced records.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// SchedulerConfig configures scheduled triggers.
type SchedulerConfig struct {
	Enabled            bool          `koanf:"enabled"`
	CheckInterval      time.Duration `koanf:"check_interval"`
	FireTimeout        time.Duration `koanf:"fire_timeout"`
	MaxConcurrentFires int           `koanf:"max_concurrent_fires"`
	RunOnStart         bool          `koanf:"run_on_start"`
	Timezone           string        `koanf:"timezone"`
}

// ResourceConfig is one scheduled scope. Exactly one of Cron and Every is set.
type ResourceConfig struct {
	Resource string            `koanf:"resource"`
	Params   map[string]string `koanf:"params"`
	Cron     string            `koanf:"cron"`
	Every    time.Duration     `koanf:"every"`
	PageSize int               `koanf:"page_size"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// NeedsNATS reports whether any component talks to a NATS server.
func (c *Config) NeedsNATS() bool {
	return c.KV.Backend == KVBackendNATS || c.Queue.Transport == TransportNATS
}

// Load reads configuration from defaults, the config file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
