// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns defaults with the one required field set.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Upstream.URL = "https://open.example.com"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	if cfg.Upstream.URL != "" {
		t.Errorf("Upstream.URL should be empty by default, got %q", cfg.Upstream.URL)
	}
	if cfg.Pipeline.PageSize != 1000 {
		t.Errorf("Pipeline.PageSize = %d, want 1000", cfg.Pipeline.PageSize)
	}
	if cfg.Pipeline.LockTTL != time.Hour {
		t.Errorf("Pipeline.LockTTL = %v, want 1h", cfg.Pipeline.LockTTL)
	}
	if cfg.Pipeline.Queue != "sync-pages" {
		t.Errorf("Pipeline.Queue = %q, want sync-pages", cfg.Pipeline.Queue)
	}
	if !cfg.Pipeline.ReleaseOnAbort {
		t.Error("Pipeline.ReleaseOnAbort should be true by default")
	}
	if cfg.KV.Backend != KVBackendBadger {
		t.Errorf("KV.Backend = %q, want badger", cfg.KV.Backend)
	}
	if cfg.Queue.Transport != TransportGoChannel {
		t.Errorf("Queue.Transport = %q, want gochannel", cfg.Queue.Transport)
	}
	if cfg.Store.Driver != StoreDriverDuckDB {
		t.Errorf("Store.Driver = %q, want duckdb", cfg.Store.Driver)
	}
	if cfg.NeedsNATS() {
		t.Error("default config should not need NATS")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"UPSTREAM_URL", "upstream.url"},
		{"UPSTREAM_TOKEN", "upstream.token"},
		{"UPSTREAM_SUCCESS_CODES", "upstream.success_codes"},
		{"PAGE_SIZE", "pipeline.page_size"},
		{"LOCK_TTL", "pipeline.lock_ttl"},
		{"KV_BACKEND", "kv.backend"},
		{"QUEUE_TRANSPORT", "queue.transport"},
		{"NATS_EMBEDDED", "nats.embedded_server"},
		{"STORE_DRIVER", "store.driver"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"log_format", "logging.format"},
		{"HOME", ""},
		{"PATH", ""},
		{"RANDOM_UNMAPPED", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := envTransformFunc(tt.input); got != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "https://open.example.com/api")
	t.Setenv("UPSTREAM_TOKEN", "secret")
	t.Setenv("UPSTREAM_SUCCESS_CODES", "0, 200, 10000")
	t.Setenv("PAGE_SIZE", "500")
	t.Setenv("LOCK_TTL", "30m")
	t.Setenv("RELEASE_ON_ABORT", "false")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := loadFrom("")
	if err != nil {
		t.Fatalf("loadFrom() error = %v", err)
	}

	if cfg.Upstream.URL != "https://open.example.com/api" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.Upstream.Token != "secret" {
		t.Errorf("Upstream.Token = %q", cfg.Upstream.Token)
	}
	if got := cfg.Upstream.SuccessCodes; len(got) != 3 || got[2] != 10000 {
		t.Errorf("Upstream.SuccessCodes = %v, want [0 200 10000]", got)
	}
	if cfg.Pipeline.PageSize != 500 {
		t.Errorf("Pipeline.PageSize = %d, want 500", cfg.Pipeline.PageSize)
	}
	if cfg.Pipeline.LockTTL != 30*time.Minute {
		t.Errorf("Pipeline.LockTTL = %v, want 30m", cfg.Pipeline.LockTTL)
	}
	if cfg.Pipeline.ReleaseOnAbort {
		t.Error("Pipeline.ReleaseOnAbort should be false")
	}
	if cfg.Store.Driver != StoreDriverSQLite {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched defaults survive.
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Errorf("Upstream.Timeout = %v, want 30s", cfg.Upstream.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
upstream:
  url: https://open.example.com
  requests_per_second: 2
pipeline:
  page_size: 200
kv:
  backend: nats
  bucket: pagesync-test
queue:
  transport: nats
nats:
  embedded_server: true
  store_dir: /tmp/js
resources:
  - resource: friend-list
    params:
      account: acct1
    cron: "0 2 * * *"
  - resource: account-list
    every: 15m
    page_size: 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Environment wins over the file.
	t.Setenv("PAGE_SIZE", "300")

	cfg, err := loadFrom(path)
	if err != nil {
		t.Fatalf("loadFrom() error = %v", err)
	}

	if cfg.Upstream.RequestsPerSecond != 2 {
		t.Errorf("Upstream.RequestsPerSecond = %v, want 2", cfg.Upstream.RequestsPerSecond)
	}
	if cfg.Pipeline.PageSize != 300 {
		t.Errorf("Pipeline.PageSize = %d, want 300 from env", cfg.Pipeline.PageSize)
	}
	if !cfg.NeedsNATS() {
		t.Error("NeedsNATS() = false, want true")
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("len(Resources) = %d, want 2", len(cfg.Resources))
	}
	r0 := cfg.Resources[0]
	if r0.Resource != "friend-list" || r0.Params["account"] != "acct1" || r0.Cron != "0 2 * * *" {
		t.Errorf("Resources[0] = %+v", r0)
	}
	r1 := cfg.Resources[1]
	if r1.Every != 15*time.Minute || r1.PageSize != 50 {
		t.Errorf("Resources[1] = %+v", r1)
	}

	schedCfg, entries := cfg.Schedule()
	if !schedCfg.Enabled || len(entries) != 2 || entries[1].Every != 15*time.Minute {
		t.Errorf("Schedule() = %+v, %+v", schedCfg, entries)
	}
}

func TestLoadRequiresUpstreamURL(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "")

	_, err := loadFrom("")
	if err == nil {
		t.Fatal("loadFrom() should fail without UPSTREAM_URL")
	}
	if !strings.Contains(err.Error(), "UPSTREAM_URL") {
		t.Errorf("error = %v, want mention of UPSTREAM_URL", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{
			name:    "upstream url scheme",
			mutate:  func(c *Config) { c.Upstream.URL = "ftp://open.example.com" },
			wantErr: "UPSTREAM_URL",
		},
		{
			name:    "upstream url query",
			mutate:  func(c *Config) { c.Upstream.URL = "https://open.example.com?x=1" },
			wantErr: "UPSTREAM_URL",
		},
		{
			name:    "breaker ratio",
			mutate:  func(c *Config) { c.Upstream.BreakerFailureRatio = 0 },
			wantErr: "UPSTREAM_BREAKER_RATIO",
		},
		{
			name:    "page size too large",
			mutate:  func(c *Config) { c.Pipeline.PageSize = 20000 },
			wantErr: "PAGE_SIZE",
		},
		{
			name:    "lock ttl too short",
			mutate:  func(c *Config) { c.Pipeline.LockTTL = time.Second },
			wantErr: "LOCK_TTL",
		},
		{
			name:    "queue with dot",
			mutate:  func(c *Config) { c.Pipeline.Queue = "sync.pages" },
			wantErr: "SYNC_QUEUE",
		},
		{
			name:    "poison equals queue",
			mutate:  func(c *Config) { c.Queue.PoisonTopic = c.Pipeline.Queue },
			wantErr: "QUEUE_POISON_TOPIC",
		},
		{
			name:    "unknown kv backend",
			mutate:  func(c *Config) { c.KV.Backend = "redis" },
			wantErr: "KV_BACKEND",
		},
		{
			name:    "badger without path",
			mutate:  func(c *Config) { c.KV.BadgerPath = "" },
			wantErr: "BADGER_PATH",
		},
		{
			name: "badger in memory without path",
			mutate: func(c *Config) {
				c.KV.BadgerPath = ""
				c.KV.BadgerInMemory = true
			},
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Queue.Transport = "kafka" },
			wantErr: "QUEUE_TRANSPORT",
		},
		{
			name: "external nats url",
			mutate: func(c *Config) {
				c.KV.Backend = KVBackendNATS
				c.Queue.Transport = TransportNATS
				c.NATS.URL = "http://127.0.0.1:4222"
			},
			wantErr: "NATS_URL",
		},
		{
			name: "embedded nats skips url",
			mutate: func(c *Config) {
				c.KV.Backend = KVBackendNATS
				c.NATS.EmbeddedServer = true
				c.NATS.URL = ""
			},
		},
		{
			name: "nats queue with local locks",
			mutate: func(c *Config) {
				c.Queue.Transport = TransportNATS
				c.KV.Backend = KVBackendBadger
			},
			wantErr: "KV_BACKEND=nats",
		},
		{
			name: "nats queue with nats locks",
			mutate: func(c *Config) {
				c.Queue.Transport = TransportNATS
				c.KV.Backend = KVBackendNATS
			},
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: "STORE_DRIVER",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
			wantErr: "SCHEDULER_TIMEZONE",
		},
		{
			name: "resource without schedule",
			mutate: func(c *Config) {
				c.Resources = []ResourceConfig{{Resource: "account-list"}}
			},
			wantErr: "resources[0]",
		},
		{
			name: "resource with both schedules",
			mutate: func(c *Config) {
				c.Resources = []ResourceConfig{{Resource: "account-list", Cron: "* * * * *", Every: time.Minute}}
			},
			wantErr: "resources[0]",
		},
		{
			name:    "server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "HTTP_PORT",
		},
		{
			name: "server disabled skips port",
			mutate: func(c *Config) {
				c.Server.Enabled = false
				c.Server.Port = 0
			},
		},
		{
			name:    "log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestComponentConfigs(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Upstream.Token = "tok"
	cfg.Pipeline.ReleaseOnAbort = false
	cfg.Queue.RetryCount = 7

	if u := cfg.UpstreamClient(); u.BaseURL != cfg.Upstream.URL || u.Token != "tok" || u.PageBase != 1 {
		t.Errorf("UpstreamClient() = %+v", u)
	}
	if r := cfg.Runner(); r.PageSize != 1000 || r.ReleaseOnAbort || r.Queue != "sync-pages" {
		t.Errorf("Runner() = %+v", r)
	}
	if c := cfg.Consumer(); c.Queue != "sync-pages" || c.PoisonQueue != "sync-pages-poison" || c.RetryMaxRetries != 7 {
		t.Errorf("Consumer() = %+v", c)
	}
	if s := cfg.SQLStore(); s.Driver != StoreDriverDuckDB || s.Path == "" {
		t.Errorf("SQLStore() = %+v", s)
	}
	if n := cfg.NATSTransport("nats://127.0.0.1:4222"); n.Conn.URL != "nats://127.0.0.1:4222" || n.DurablePrefix != "pagesync" {
		t.Errorf("NATSTransport() = %+v", n)
	}
	if e := cfg.EmbeddedNATS(); e.StoreDir != cfg.NATS.StoreDir || e.Port != 4222 {
		t.Errorf("EmbeddedNATS() = %+v", e)
	}
	if b := cfg.Badger(); b.Path != cfg.KV.BadgerPath || !b.SyncWrites {
		t.Errorf("Badger() = %+v", b)
	}
}
