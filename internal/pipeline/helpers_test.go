// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/kv"
	"github.com/tomtom215/pagesync/internal/lock"
	"github.com/tomtom215/pagesync/internal/scope"
)

var errInjected = errors.New("injected failure")

// fakeAdapter serves pages from an in-memory upstream and applies them to an
// in-memory table keyed by external id.
type fakeAdapter struct {
	resource string
	mode     RunMode

	mu       sync.Mutex
	upstream []SyncRecord
	table    map[string]json.RawMessage
	fetches  []int

	fetchErr func(page int) error
	applyErr func(records []SyncRecord) error
}

func newFakeAdapter(resource string, n int) *fakeAdapter {
	a := &fakeAdapter{resource: resource, table: make(map[string]json.RawMessage)}
	for i := 0; i < n; i++ {
		a.upstream = append(a.upstream, SyncRecord{
			ExternalID: fmt.Sprintf("wx-%05d", i),
			Payload:    json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	return a
}

func (a *fakeAdapter) Resource() string { return a.resource }

func (a *fakeAdapter) RunMode() RunMode {
	if a.mode == "" {
		return RunModeFresh
	}
	return a.mode
}

func (a *fakeAdapter) Fetch(_ context.Context, req PageRequest) (PageResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches = append(a.fetches, req.Cursor.Page)
	if a.fetchErr != nil {
		if err := a.fetchErr(req.Cursor.Page); err != nil {
			return PageResult{}, err
		}
	}
	start := req.Cursor.Page * req.PageSize
	if start > len(a.upstream) {
		start = len(a.upstream)
	}
	end := start + req.PageSize
	if end > len(a.upstream) {
		end = len(a.upstream)
	}
	page := append([]SyncRecord(nil), a.upstream[start:end]...)
	return NewPageResult(req, page), nil
}

func (a *fakeAdapter) Apply(_ context.Context, records []SyncRecord) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applyErr != nil {
		if err := a.applyErr(records); err != nil {
			return 0, err
		}
	}
	changed := 0
	for _, r := range records {
		if prev, ok := a.table[r.ExternalID]; ok && bytes.Equal(prev, r.Payload) {
			continue
		}
		a.table[r.ExternalID] = r.Payload
		changed++
	}
	return changed, nil
}

// grow appends n records to the upstream, continuing the id sequence.
func (a *fakeAdapter) grow(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.upstream); n > 0; i, n = i+1, n-1 {
		a.upstream = append(a.upstream, SyncRecord{
			ExternalID: fmt.Sprintf("wx-%05d", i),
			Payload:    json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
}

func (a *fakeAdapter) rows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// queueDispatcher collects enqueued jobs as encoded payloads so the test
// proves a job survives the queue without shared state.
type queueDispatcher struct {
	mu       sync.Mutex
	payloads [][]byte
	queues   []string
	err      error
}

func (d *queueDispatcher) Enqueue(_ context.Context, queue string, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	d.payloads = append(d.payloads, payload)
	d.queues = append(d.queues, queue)
	return nil
}

func (d *queueDispatcher) pop(t *testing.T) (Job, bool) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.payloads) == 0 {
		return Job{}, false
	}
	payload := d.payloads[0]
	d.payloads = d.payloads[1:]
	job, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}
	return job, true
}

func (d *queueDispatcher) enqueued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// flakyCursors fails Set for one page, once.
type flakyCursors struct {
	*cursor.Store
	mu       sync.Mutex
	failPage int
	failed   bool
}

func (c *flakyCursors) Set(ctx context.Context, s scope.Scope, runID scope.RunID, p cursor.Position) error {
	c.mu.Lock()
	if !c.failed && p.Page == c.failPage {
		c.failed = true
		c.mu.Unlock()
		return errInjected
	}
	c.mu.Unlock()
	return c.Store.Set(ctx, s, runID, p)
}

type harness struct {
	adapter    *fakeAdapter
	locks      *lock.Manager
	cursors    *cursor.Store
	dispatcher *queueDispatcher
	runner     *Runner
	trigger    *Trigger
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	runner  Config
	cursors func(*cursor.Store) CursorStore
}

func withConfig(fn func(*Config)) harnessOption {
	return func(h *harnessConfig) { fn(&h.runner) }
}

func withCursors(wrap func(*cursor.Store) CursorStore) harnessOption {
	return func(h *harnessConfig) { h.cursors = wrap }
}

func newHarness(t *testing.T, records int, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{runner: DefaultConfig()}
	for _, opt := range opts {
		opt(&hc)
	}

	store, err := kv.OpenBadger(kv.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	adapter := newFakeAdapter("friend-list", records)
	registry, err := NewRegistry(adapter)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	h := &harness{
		adapter:    adapter,
		locks:      lock.NewManager(store),
		cursors:    cursor.NewStore(store),
		dispatcher: &queueDispatcher{},
	}
	var cursors CursorStore = h.cursors
	if hc.cursors != nil {
		cursors = hc.cursors(h.cursors)
	}
	h.runner = NewRunner(hc.runner, registry, h.locks, cursors, h.dispatcher)
	h.trigger = NewTrigger(h.runner)
	return h
}

// drain plays the role of the queue consumer until no job is left.
func (h *harness) drain(t *testing.T, last Outcome) Outcome {
	t.Helper()
	for {
		job, ok := h.dispatcher.pop(t)
		if !ok {
			return last
		}
		last = h.runner.Step(context.Background(), job)
	}
}

func acct1Scope(t *testing.T) scope.Scope {
	t.Helper()
	s, err := scope.New("friend-list", map[string]string{"account": "acct1"})
	if err != nil {
		t.Fatalf("scope.New() error = %v", err)
	}
	return s
}

func checkStatus(t *testing.T, out Outcome, want Status) {
	t.Helper()
	if out.Status != want {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, want, out.Err)
	}
}

func checkKind(t *testing.T, out Outcome, want ErrorKind) {
	t.Helper()
	if got := KindOf(out.Err); got != want {
		t.Fatalf("error kind = %q, want %q (err: %v)", got, want, out.Err)
	}
}

func checkLockHeld(t *testing.T, h *harness, s scope.Scope, want bool) {
	t.Helper()
	held, err := h.locks.IsHeld(context.Background(), s)
	if err != nil {
		t.Fatalf("IsHeld() error = %v", err)
	}
	if held != want {
		t.Fatalf("lock held = %v, want %v", held, want)
	}
}

func checkCursorPage(t *testing.T, h *harness, s scope.Scope, runID scope.RunID, want int) {
	t.Helper()
	pos, err := h.cursors.Get(context.Background(), s, runID, cursor.Position{Page: -1})
	if err != nil {
		t.Fatalf("cursor Get() error = %v", err)
	}
	if pos.Page != want {
		t.Fatalf("cursor page = %d, want %d", pos.Page, want)
	}
}
