// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/pagesync/internal/logging"
)

// BadgerConfig configures an embedded BadgerDB store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in memory. Locks and cursors do not survive a
	// restart in this mode, so it is meant for tests and one-shot runs.
	InMemory bool

	// SyncWrites fsyncs every commit. Recommended, since the cursor store relies
	// on the write being durable before the next page is dispatched.
	SyncWrites bool

	// GCRatio is the value-log GC discard ratio used by RunGC.
	GCRatio float64
}

// BadgerStore implements Store on BadgerDB. Conditional writes run inside a
// single read-write transaction; BadgerDB's conflict detection makes the
// check-and-set atomic, and a losing transaction is retried.
type BadgerStore struct {
	db      *badger.DB
	gcRatio float64
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a BadgerDB-backed store.
func OpenBadger(cfg BadgerConfig, opts ...Option) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("kv: badger path is required")
	}

	bopts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = cfg.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	o := buildOptions(opts)
	ratio := cfg.GCRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("KV store opened (badger)")

	return &BadgerStore{db: db, gcRatio: ratio, now: o.now}, nil
}

func (s *BadgerStore) checkOpen(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on ErrConflict.
// fn must assign its results on every invocation.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		logging.Trace().Int("attempt", attempt+1).Msg("KV transaction conflict, retrying")
	}
	return ErrContention
}

// readLive returns the live envelope at key, if any.
func (s *BadgerStore) readLive(txn *badger.Txn, key []byte) (envelope, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return envelope{}, false, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return envelope{}, false, fmt.Errorf("decode %q: %w", key, err)
	}
	if !env.live(s.now()) {
		return envelope{}, false, nil
	}
	return env, true, nil
}

func (s *BadgerStore) write(txn *badger.Txn, key, value []byte, ttl time.Duration) error {
	raw, err := encodeEnvelope(value, ttl, s.now())
	if err != nil {
		return err
	}
	entry := badger.NewEntry(key, raw)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return txn.SetEntry(entry)
}

// SetIfAbsent implements Store.
func (s *BadgerStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.checkOpen(key); err != nil {
		return false, err
	}

	var stored bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored = false
		_, exists, err := s.readLive(txn, []byte(key))
		if err != nil || exists {
			return err
		}
		if err := s.write(txn, []byte(key), value, ttl); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set-if-absent %q: %w", key, err)
	}
	return stored, nil
}

// CompareAndDelete implements Store.
func (s *BadgerStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := s.checkOpen(key); err != nil {
		return false, err
	}

	var deleted bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		deleted = false
		env, exists, err := s.readLive(txn, []byte(key))
		if err != nil || !exists || !bytes.Equal(env.Value, expected) {
			return err
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %q: %w", key, err)
	}
	return deleted, nil
}

// CompareAndSwap implements Store.
func (s *BadgerStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	if err := s.checkOpen(key); err != nil {
		return false, err
	}

	var swapped bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		swapped = false
		env, exists, err := s.readLive(txn, []byte(key))
		if err != nil {
			return err
		}
		if expected == nil && exists {
			return nil
		}
		if expected != nil && (!exists || !bytes.Equal(env.Value, expected)) {
			return nil
		}
		if err := s.write(txn, []byte(key), value, 0); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("compare-and-swap %q: %w", key, err)
	}
	return swapped, nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := s.checkOpen(key); err != nil {
		return nil, false, err
	}

	var (
		value  []byte
		exists bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		env, ok, err := s.readLive(txn, []byte(key))
		value, exists = env.Value, ok
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, exists, nil
}

// Set implements Store.
func (s *BadgerStore) Set(_ context.Context, key string, value []byte) error {
	if err := s.checkOpen(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return s.write(txn, []byte(key), value, 0)
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// RunGC reclaims value-log space until BadgerDB reports nothing to rewrite.
func (s *BadgerStore) RunGC() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	for {
		err := s.db.RunValueLogGC(s.gcRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close implements Store. It is safe to call more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("KV store closed (badger)")
	return nil
}
