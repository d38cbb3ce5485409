// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/pagesync/internal/logging"
)

// ConnConfig configures the client connection.
type ConnConfig struct {
	URL             string
	Name            string
	MaxReconnects   int // -1 for unlimited
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// DefaultConnConfig returns reconnect-forever settings for url.
func DefaultConnConfig(url string) ConnConfig {
	return ConnConfig{
		URL:             url,
		Name:            "pagesync",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
	}
}

// NatsOptions returns the client options shared by the raw connection and the
// Watermill publisher and subscriber.
func (c ConnConfig) NatsOptions() []nats.Option {
	return []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.ReconnectBufSize(c.ReconnectBuffer),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
}

// Conn bundles a NATS connection with its JetStream context.
type Conn struct {
	NC *nats.Conn
	JS jetstream.JetStream
}

// Connect dials the broker and opens a JetStream context.
func Connect(cfg ConnConfig) (*Conn, error) {
	nc, err := nats.Connect(cfg.URL, cfg.NatsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	logging.Info().Str("url", cfg.URL).Msg("Connected to NATS")
	return &Conn{NC: nc, JS: js}, nil
}

// Close drains the connection.
func (c *Conn) Close() error {
	if c == nil || c.NC == nil {
		return nil
	}
	return c.NC.Drain()
}
