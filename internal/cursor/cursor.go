// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package cursor persists how far a run has progressed through a paginated
// resource, keyed by (scope, run id).
//
// Set must only be called after the page's records are durably applied, so a
// crash between apply and Set replays the page instead of skipping it. Set is
// monotonic: a write that would move the page index backwards is rejected with
// ErrRegression, which keeps re-delivered jobs from rewinding a chain.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/kv"
	"github.com/tomtom215/pagesync/internal/scope"
)

const keyPrefix = "cursor/"

// ErrRegression is returned when Set would move a cursor backwards.
var ErrRegression = errors.New("cursor: position would move backwards")

// ErrNegativePage is returned for positions with a negative page index.
var ErrNegativePage = errors.New("cursor: page index must not be negative")

// Position is a run's progress: the next page index to fetch and the external
// id of the last record applied.
type Position struct {
	Page   int    `json:"page"`
	LastID string `json:"last_id,omitempty"`
}

// Start is the default position of a fresh run.
var Start = Position{}

// Next returns the position after a page whose last record is lastID.
func (p Position) Next(lastID string) Position {
	if lastID == "" {
		lastID = p.LastID
	}
	return Position{Page: p.Page + 1, LastID: lastID}
}

// Store reads and writes cursors on a kv.Store.
type Store struct {
	kv kv.Store
}

// NewStore creates a cursor store on backing.
func NewStore(backing kv.Store) *Store {
	return &Store{kv: backing}
}

// Key returns the store key of the cursor for (s, runID).
func Key(s scope.Scope, runID scope.RunID) string {
	return keyPrefix + s.Key() + "/" + string(runID)
}

// Get returns the stored position, or def if the pair has none.
func (c *Store) Get(ctx context.Context, s scope.Scope, runID scope.RunID, def Position) (Position, error) {
	raw, exists, err := c.kv.Get(ctx, Key(s, runID))
	if err != nil {
		return def, fmt.Errorf("read cursor for %s/%s: %w", s.Key(), runID, err)
	}
	if !exists {
		return def, nil
	}
	var p Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return def, fmt.Errorf("decode cursor for %s/%s: %w", s.Key(), runID, err)
	}
	return p, nil
}

// Set stores p unless the current position is already further along.
func (c *Store) Set(ctx context.Context, s scope.Scope, runID scope.RunID, p Position) error {
	if p.Page < 0 {
		return ErrNegativePage
	}
	next, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	key := Key(s, runID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, exists, err := c.kv.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read cursor for %s/%s: %w", s.Key(), runID, err)
		}

		var expected []byte
		if exists {
			var cur Position
			if err := json.Unmarshal(current, &cur); err != nil {
				return fmt.Errorf("decode cursor for %s/%s: %w", s.Key(), runID, err)
			}
			if cur.Page > p.Page {
				return fmt.Errorf("%w: stored page %d, new page %d", ErrRegression, cur.Page, p.Page)
			}
			expected = current
		}

		swapped, err := c.kv.CompareAndSwap(ctx, key, expected, next)
		if err != nil {
			return fmt.Errorf("write cursor for %s/%s: %w", s.Key(), runID, err)
		}
		if swapped {
			return nil
		}
		// Lost a race with a concurrent writer; re-read and re-check.
	}
}
