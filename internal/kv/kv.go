// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package kv provides the TTL key/value stores backing the lock manager and the
// cursor store.
//
// Two implementations are available:
//
//   - BadgerStore: embedded BadgerDB, for single-node deployments.
//   - NATSStore: a NATS JetStream KeyValue bucket, for workers spread across
//     processes that share one broker.
//
// Every conditional operation (SetIfAbsent, CompareAndDelete, CompareAndSwap)
// is atomic against the backing store. Expiry is tracked inside the stored
// envelope so both backends agree on when an entry stops being live; BadgerDB
// additionally gets a native TTL so expired keys are garbage collected.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Store is the TTL key/value contract used by the lock and cursor packages.
type Store interface {
	// SetIfAbsent writes value only if key has no live entry.
	// A ttl of zero stores the entry without expiry.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its live value equals expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// CompareAndSwap replaces the live value of key with value only if it equals
	// expected. A nil expected means the key must be absent.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error)

	// Get returns the live value of key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set unconditionally writes value without expiry.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the store's resources.
	Close() error
}

var (
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("kv: store is closed")

	// ErrEmptyKey is returned when an operation is given an empty key.
	ErrEmptyKey = errors.New("kv: key cannot be empty")

	// ErrContention is returned when a conditional write keeps losing
	// optimistic-concurrency races and gives up.
	ErrContention = errors.New("kv: too much write contention")
)

// maxConflictRetries bounds the optimistic retry loops of both backends.
const maxConflictRetries = 16

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// envelope is the stored representation of a value.
type envelope struct {
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"` // unix nanoseconds, 0 means no expiry
}

func (e envelope) live(now time.Time) bool {
	return e.ExpiresAt == 0 || now.UnixNano() < e.ExpiresAt
}

func encodeEnvelope(value []byte, ttl time.Duration, now time.Time) ([]byte, error) {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl).UnixNano()
	}
	return json.Marshal(env)
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}
