// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package store is the local mirror of upstream records.

All resource types share one table keyed by (resource, external_id). Each row
keeps the raw upstream payload and an xxhash checksum of it, so a re-applied
page only rewrites rows whose payload actually changed.

Two database/sql drivers are supported: DuckDB (the default, a single file
next to the KV data) and pure-Go SQLite for builds without cgo.
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/duckdb/duckdb-go/v2" // register "duckdb" driver
	_ "modernc.org/sqlite"             // register "sqlite" driver

	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/metrics"
)

// Supported drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// inClauseChunk bounds the number of ids in one checksum lookup.
const inClauseChunk = 500

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")

	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("store: unsupported driver")

	// ErrEmptyID is returned when a record has no external id.
	ErrEmptyID = errors.New("store: record has empty external id")
)

const schema = `
CREATE TABLE IF NOT EXISTS synced_records (
	resource    VARCHAR NOT NULL,
	external_id VARCHAR NOT NULL,
	payload     VARCHAR NOT NULL,
	checksum    BIGINT  NOT NULL,
	synced_at   BIGINT  NOT NULL,
	PRIMARY KEY (resource, external_id)
)`

const upsertSQL = `
INSERT INTO synced_records (resource, external_id, payload, checksum, synced_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (resource, external_id) DO UPDATE SET
	payload = excluded.payload,
	checksum = excluded.checksum,
	synced_at = excluded.synced_at`

// Config selects the driver and database location.
type Config struct {
	Driver string
	// Path is a file path, or ":memory:" for a private in-memory database.
	Path string
}

// Record is one row to upsert.
type Record struct {
	ExternalID string
	Payload    []byte
}

// Row is a stored record.
type Row struct {
	Resource   string
	ExternalID string
	Payload    []byte
	Checksum   uint64
	SyncedAt   time.Time
}

// SQLStore upserts records through database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the store and ensures the schema.
func Open(cfg Config) (*SQLStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverDuckDB
	}
	if driver != DriverDuckDB && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = ":memory:"
	}
	inMemory := path == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
			}
		}
	}

	dsn := path
	if driver == DriverSQLite && !inMemory {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	if driver == DriverDuckDB {
		dsn = path + "?autoinstall_known_extensions=false&autoload_known_extensions=false"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; an in-memory database also lives in a single connection.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logging.Info().Str("driver", driver).Str("path", path).Msg("Record store opened")

	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

// Driver returns the database/sql driver name.
func (s *SQLStore) Driver() string { return s.driver }

// Checksum is the change-detection hash of a payload.
func Checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Apply upserts records of one resource in a single transaction and returns
// the number of rows whose payload changed. Within a batch the last
// occurrence of an external id wins.
func (s *SQLStore) Apply(ctx context.Context, resource string, records []Record) (applied int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		if err == nil {
			metrics.RecordStoreApply(resource, s.driver, time.Since(start))
		}
	}()

	ids, latest, err := dedupe(records)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Warn().Err(rbErr).Str("resource", resource).Msg("Rollback failed")
			}
		}
	}()

	existing, err := loadChecksums(ctx, tx, resource, ids)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	syncedAt := s.now().UTC().UnixMilli()
	for _, id := range ids {
		payload := latest[id]
		sum := Checksum(payload)
		if prev, ok := existing[id]; ok && prev == sum {
			continue
		}
		if _, err = stmt.ExecContext(ctx, resource, id, string(payload), int64(sum), syncedAt); err != nil {
			return 0, fmt.Errorf("upsert %s/%s: %w", resource, id, err)
		}
		applied++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

func dedupe(records []Record) ([]string, map[string][]byte, error) {
	ids := make([]string, 0, len(records))
	latest := make(map[string][]byte, len(records))
	for _, r := range records {
		if r.ExternalID == "" {
			return nil, nil, ErrEmptyID
		}
		if _, seen := latest[r.ExternalID]; !seen {
			ids = append(ids, r.ExternalID)
		}
		latest[r.ExternalID] = r.Payload
	}
	return ids, latest, nil
}

func loadChecksums(ctx context.Context, tx *sql.Tx, resource string, ids []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ids))
	for start := 0; start < len(ids); start += inClauseChunk {
		end := start + inClauseChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, resource)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := "SELECT external_id, checksum FROM synced_records WHERE resource = ? AND external_id IN (" +
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("load checksums: %w", err)
		}
		for rows.Next() {
			var id string
			var sum int64
			if err := rows.Scan(&id, &sum); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan checksum: %w", err)
			}
			out[id] = uint64(sum)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate checksums: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// Get returns one stored record.
func (s *SQLStore) Get(ctx context.Context, resource, externalID string) (Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Row{}, false, ErrClosed
	}

	var (
		payload  string
		sum      int64
		syncedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, checksum, synced_at FROM synced_records WHERE resource = ? AND external_id = ?",
		resource, externalID,
	).Scan(&payload, &sum, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("get %s/%s: %w", resource, externalID, err)
	}
	return Row{
		Resource:   resource,
		ExternalID: externalID,
		Payload:    []byte(payload),
		Checksum:   uint64(sum),
		SyncedAt:   time.UnixMilli(syncedAt).UTC(),
	}, true, nil
}

// Count returns the number of stored records of a resource.
func (s *SQLStore) Count(ctx context.Context, resource string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM synced_records WHERE resource = ?", resource,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", resource, err)
	}
	return int(n), nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. It is safe to call more than once.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
