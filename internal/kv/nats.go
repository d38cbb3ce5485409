// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package kv

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/pagesync/internal/logging"
)

// DefaultBucket is the JetStream KeyValue bucket used when none is configured.
const DefaultBucket = "pagesync"

// NATSStore implements Store on a JetStream KeyValue bucket.
//
// Conditional writes use the bucket's per-key revision: Create for absent
// keys, Update and Delete pinned to the revision that was read. A lost race
// surfaces as a wrong-last-sequence error and the operation is retried.
type NATSStore struct {
	kv  jetstream.KeyValue
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenNATS creates (or binds to) the named bucket.
func OpenNATS(ctx context.Context, js jetstream.JetStream, bucket string, opts ...Option) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "pagesync locks and cursors",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create KV bucket %q: %w", bucket, err)
	}

	o := buildOptions(opts)
	logging.Info().Str("bucket", bucket).Msg("KV store opened (nats)")
	return &NATSStore{kv: kv, now: o.now}, nil
}

// encodeKey maps arbitrary keys onto the bucket's key alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *NATSStore) checkOpen(key string) error {
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

// load returns the live envelope and the revision of the latest entry.
// The revision is returned even when the entry has expired so it can be
// overwritten in place.
func (s *NATSStore) load(ctx context.Context, key string) (envelope, uint64, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return envelope{}, 0, false, nil
	}
	if err != nil {
		return envelope{}, 0, false, err
	}
	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return envelope{}, entry.Revision(), false, fmt.Errorf("decode entry: %w", err)
	}
	if !env.live(s.now()) {
		return envelope{}, entry.Revision(), false, nil
	}
	return env, entry.Revision(), true, nil
}

// put writes raw at key, creating it when revision is zero.
func (s *NATSStore) put(ctx context.Context, key string, raw []byte, revision uint64) error {
	if revision == 0 {
		_, err := s.kv.Create(ctx, key, raw)
		return err
	}
	_, err := s.kv.Update(ctx, key, raw, revision)
	return err
}

// SetIfAbsent implements Store.
func (s *NATSStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.checkOpen(key); err != nil {
		return false, err
	}
	k := encodeKey(key)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		_, rev, exists, err := s.load(ctx, k)
		if err != nil {
			return false, fmt.Errorf("set-if-absent %q: %w", key, err)
		}
		if exists {
			return false, nil
		}
		raw, err := encodeEnvelope(value, ttl, s.now())
		if err != nil {
			return false, err
		}
		err = s.put(ctx, k, raw, rev)
		if err == nil {
			return true, nil
		}
		if !isRevisionMismatch(err) {
			return false, fmt.Errorf("set-if-absent %q: %w", key, err)
		}
	}
	return false, ErrContention
}

// CompareAndDelete implements Store.
func (s *NATSStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := s.checkOpen(key); err != nil {
		return false, err
	}
	k := encodeKey(key)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		env, rev, exists, err := s.load(ctx, k)
		if err != nil {
			return false, fmt.Errorf("compare-and-delete %q: %w", key, err)
		}
		if !exists || !bytes.Equal(env.Value, expected) {
			return false, nil
		}
		err = s.kv.Delete(ctx, k, jetstream.LastRevision(rev))
		if err == nil {
			return true, nil
		}
		if !isRevisionMismatch(err) {
			return false, fmt.Errorf("compare-and-delete %q: %w", key, err)
		}
	}
	return false, ErrContention
}

// CompareAndSwap implements Store.
func (s *NATSStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	if err := s.checkOpen(key); err != nil {
		return false, err
	}
	k := encodeKey(key)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		env, rev, exists, err := s.load(ctx, k)
		if err != nil {
			return false, fmt.Errorf("compare-and-swap %q: %w", key, err)
		}
		if expected == nil && exists {
			return false, nil
		}
		if expected != nil && (!exists || !bytes.Equal(env.Value, expected)) {
			return false, nil
		}
		raw, err := encodeEnvelope(value, 0, s.now())
		if err != nil {
			return false, err
		}
		err = s.put(ctx, k, raw, rev)
		if err == nil {
			return true, nil
		}
		if !isRevisionMismatch(err) {
			return false, fmt.Errorf("compare-and-swap %q: %w", key, err)
		}
	}
	return false, ErrContention
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.checkOpen(key); err != nil {
		return nil, false, err
	}
	env, _, exists, err := s.load(ctx, encodeKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return env.Value, exists, nil
}

// Set implements Store.
func (s *NATSStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.checkOpen(key); err != nil {
		return err
	}
	raw, err := encodeEnvelope(value, 0, s.now())
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, encodeKey(key), raw); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Close implements Store. The NATS connection is owned by the caller.
func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
