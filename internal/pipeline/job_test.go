// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/pagesync/internal/cursor"
)

func TestJobIsSelfSufficient(t *testing.T) {
	t.Parallel()

	s := acct1Scope(t)
	job := NewJob(s, "r1", cursor.Position{Page: 2, LastID: "wx-01999"}, 1000, "sync-pages").
		Continue(cursor.Position{Page: 2, LastID: "wx-01999"}, time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))

	payload, err := job.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}

	if !got.Scope.Equal(s) {
		t.Errorf("scope = %s, want %s", got.Scope.Key(), s.Key())
	}
	if got.RunID != "r1" || got.PageSize != 1000 || got.Queue != "sync-pages" {
		t.Errorf("decoded job = %+v", got)
	}
	if got.Cursor != job.Cursor {
		t.Errorf("cursor = %+v, want %+v", got.Cursor, job.Cursor)
	}
	if got.LockKey != "lock/friend-list:account=acct1" {
		t.Errorf("lock key = %q", got.LockKey)
	}
}

func TestDecodeJobRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{`},
		{"missing run id", `{"scope":{"resource":"friend-list"},"page_size":10,"lock_key":"lock/friend-list"}`},
		{"zero page size", `{"scope":{"resource":"friend-list"},"run_id":"r1","page_size":0,"lock_key":"lock/friend-list"}`},
		{"missing resource", `{"scope":{},"run_id":"r1","page_size":10,"lock_key":"lock/"}`},
		{"negative page", `{"scope":{"resource":"friend-list"},"run_id":"r1","cursor":{"page":-1},"page_size":10,"lock_key":"lock/friend-list"}`},
		{"mismatched lock key", `{"scope":{"resource":"friend-list"},"run_id":"r1","page_size":10,"lock_key":"lock/other"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeJob([]byte(tt.payload)); !errors.Is(err, ErrInvalidJob) {
				t.Errorf("DecodeJob() error = %v, want ErrInvalidJob", err)
			}
		})
	}
}

func TestDedupKey(t *testing.T) {
	t.Parallel()

	s := acct1Scope(t)
	a := NewJob(s, "r1", cursor.Position{Page: 1}, 1000, "")
	b := NewJob(s, "r1", cursor.Position{Page: 1, LastID: "x"}, 1000, "")
	c := NewJob(s, "r1", cursor.Position{Page: 2}, 1000, "")

	if a.DedupKey() != b.DedupKey() {
		t.Error("same page of same run must share a dedup key")
	}
	if a.DedupKey() == c.DedupKey() {
		t.Error("different pages must not share a dedup key")
	}
}

func TestNewPageResultContinuation(t *testing.T) {
	t.Parallel()

	req := PageRequest{Cursor: cursor.Position{Page: 0}, PageSize: 2}

	full := NewPageResult(req, []SyncRecord{{ExternalID: "a"}, {ExternalID: "b"}})
	if !full.More {
		t.Error("a full page must continue")
	}
	if full.Next != (cursor.Position{Page: 1, LastID: "b"}) {
		t.Errorf("Next = %+v", full.Next)
	}

	short := NewPageResult(req, []SyncRecord{{ExternalID: "a"}})
	if short.More {
		t.Error("a short page must terminate")
	}

	empty := NewPageResult(req, nil)
	if empty.More || empty.Next.Page != 1 {
		t.Errorf("empty page result = %+v", empty)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(newFakeAdapter("friend-list", 0), newFakeAdapter("account-list", 0))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if err := r.Register(newFakeAdapter("friend-list", 0)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register() error = %v, want ErrAlreadyRegistered", err)
	}
	if _, err := r.Lookup("nope"); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Lookup(nope) error = %v", err)
	}
	got := r.Resources()
	if len(got) != 2 || got[0] != "account-list" || got[1] != "friend-list" {
		t.Errorf("Resources() = %v", got)
	}
}
