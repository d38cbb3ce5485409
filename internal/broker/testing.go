// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package broker

import (
	"context"
	"testing"
	"time"
)

// StartForTest runs an embedded JetStream server on a random port with its
// store under t.TempDir(). The server is shut down by t.Cleanup.
func StartForTest(tb testing.TB) *EmbeddedServer {
	tb.Helper()

	srv, err := NewEmbeddedServer(ServerConfig{
		Host:              "127.0.0.1",
		Port:              -1,
		StoreDir:          tb.TempDir(),
		JetStreamMaxMem:   64 << 20,
		JetStreamMaxStore: 256 << 20,
		StartTimeout:      10 * time.Second,
		Quiet:             true,
	})
	if err != nil {
		tb.Fatalf("start embedded NATS: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// ConnectForTest starts an embedded server and returns a connection to it.
func ConnectForTest(tb testing.TB) (*EmbeddedServer, *Conn) {
	tb.Helper()

	srv := StartForTest(tb)
	conn, err := Connect(DefaultConnConfig(srv.ClientURL()))
	if err != nil {
		tb.Fatalf("connect to embedded NATS: %v", err)
	}
	tb.Cleanup(func() { conn.NC.Close() })
	return srv, conn
}
