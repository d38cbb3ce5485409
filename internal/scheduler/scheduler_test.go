// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/pagesync/internal/pipeline"
)

type firerFunc func(ctx context.Context, req pipeline.FireRequest) pipeline.Outcome

func (f firerFunc) Fire(ctx context.Context, req pipeline.FireRequest) pipeline.Outcome {
	return f(ctx, req)
}

type recordingFirer struct {
	mu       sync.Mutex
	requests []pipeline.FireRequest
	status   pipeline.Status
}

func (r *recordingFirer) Fire(_ context.Context, req pipeline.FireRequest) pipeline.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	status := r.status
	if status == "" {
		status = pipeline.StatusChained
	}
	return pipeline.Outcome{Status: status}
}

func (r *recordingFirer) fired() []pipeline.FireRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.FireRequest(nil), r.requests...)
}

func TestNewValidatesEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
		config  Config
		wantErr bool
	}{
		{
			name:    "cron entry",
			entries: []Entry{{Resource: "account-list", Cron: "0 2 * * *"}},
		},
		{
			name:    "interval entry",
			entries: []Entry{{Resource: "account-list", Every: time.Hour}},
		},
		{
			name: "same resource different params",
			entries: []Entry{
				{Resource: "friend-list", Params: map[string]string{"account": "a"}, Every: time.Hour},
				{Resource: "friend-list", Params: map[string]string{"account": "b"}, Every: time.Hour},
			},
		},
		{
			name: "duplicate scope",
			entries: []Entry{
				{Resource: "account-list", Every: time.Hour},
				{Resource: "account-list", Cron: "0 2 * * *"},
			},
			wantErr: true,
		},
		{
			name:    "no schedule",
			entries: []Entry{{Resource: "account-list"}},
			wantErr: true,
		},
		{
			name:    "both schedules",
			entries: []Entry{{Resource: "account-list", Every: time.Hour, Cron: "0 2 * * *"}},
			wantErr: true,
		},
		{
			name:    "bad cron",
			entries: []Entry{{Resource: "account-list", Cron: "0 25 * * *"}},
			wantErr: true,
		},
		{
			name:    "empty resource",
			entries: []Entry{{Every: time.Hour}},
			wantErr: true,
		},
		{
			name:    "bad timezone",
			entries: []Entry{{Resource: "account-list", Every: time.Hour}},
			config:  Config{Timezone: "Not/AZone"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(&recordingFirer{}, tt.entries, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckFiresDueEntries(t *testing.T) {
	t.Parallel()

	firer := &recordingFirer{}
	s, err := New(firer, []Entry{
		{Resource: "account-list", Every: time.Hour},
		{Resource: "friend-list", Params: map[string]string{"account": "wx1"}, Every: 15 * time.Minute, PageSize: 200},
	}, Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Date(2026, 3, 18, 10, 7, 0, 0, time.UTC)
	for _, j := range s.jobs {
		j.next = j.schedule.Next(start)
	}

	if n := s.check(context.Background(), start.Add(time.Minute)); n != 0 {
		t.Errorf("check(10:08) fired %d, want 0", n)
	}
	if n := s.check(context.Background(), time.Date(2026, 3, 18, 10, 15, 0, 0, time.UTC)); n != 1 {
		t.Errorf("check(10:15) fired %d, want 1", n)
	}
	if n := s.check(context.Background(), time.Date(2026, 3, 18, 11, 0, 30, 0, time.UTC)); n != 2 {
		t.Errorf("check(11:00) fired %d, want 2", n)
	}

	got := firer.fired()
	if len(got) != 3 {
		t.Fatalf("fired %d requests, want 3", len(got))
	}
	first := got[0]
	if first.Resource != "friend-list" || first.Params["account"] != "wx1" || first.PageSize != 200 {
		t.Errorf("first request = %+v", first)
	}
	for _, req := range got {
		if req.Source != pipeline.SourceSchedule {
			t.Errorf("Source = %q, want %q", req.Source, pipeline.SourceSchedule)
		}
		if req.RunID != "" {
			t.Errorf("RunID = %q, want empty so the trigger generates one", req.RunID)
		}
	}
}

func TestCheckAdvancesPastMissedActivations(t *testing.T) {
	t.Parallel()

	firer := &recordingFirer{}
	s, err := New(firer, []Entry{{Resource: "account-list", Every: time.Hour}}, Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.jobs[0].next = time.Date(2026, 3, 18, 1, 0, 0, 0, time.UTC)

	// Five activations were missed; one fire catches up.
	now := time.Date(2026, 3, 18, 6, 10, 0, 0, time.UTC)
	if n := s.check(context.Background(), now); n != 1 {
		t.Errorf("check() fired %d, want 1", n)
	}
	if want := time.Date(2026, 3, 18, 7, 0, 0, 0, time.UTC); !s.jobs[0].next.Equal(want) {
		t.Errorf("next = %v, want %v", s.jobs[0].next, want)
	}
}

func TestCheckToleratesAlreadyRunningAndErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := map[string]int{}
	firer := firerFunc(func(_ context.Context, req pipeline.FireRequest) pipeline.Outcome {
		mu.Lock()
		calls[req.Resource]++
		mu.Unlock()
		if req.Resource == "account-list" {
			return pipeline.Outcome{Status: pipeline.StatusAlreadyRunning}
		}
		return pipeline.Outcome{Status: pipeline.StatusAborted, Err: errors.New("upstream down")}
	})

	s, err := New(firer, []Entry{
		{Resource: "account-list", Every: time.Minute},
		{Resource: "department-list", Every: time.Minute},
	}, Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)
	for _, j := range s.jobs {
		j.next = now
	}

	s.check(context.Background(), now)
	s.check(context.Background(), now.Add(time.Minute))

	mu.Lock()
	defer mu.Unlock()
	if calls["account-list"] != 2 || calls["department-list"] != 2 {
		t.Errorf("calls = %v, want 2 each", calls)
	}
}

func TestCheckBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var active, peak int
	firer := firerFunc(func(_ context.Context, _ pipeline.FireRequest) pipeline.Outcome {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return pipeline.Outcome{Status: pipeline.StatusFinished}
	})

	var entries []Entry
	for _, r := range []string{"a", "b", "c", "d", "e", "f"} {
		entries = append(entries, Entry{Resource: r + "-list", Every: time.Minute})
	}
	s, err := New(firer, entries, Config{Enabled: true, MaxConcurrentFires: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)
	for _, j := range s.jobs {
		j.next = now
	}

	if n := s.check(context.Background(), now); n != 6 {
		t.Errorf("check() fired %d, want 6", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestStartRunOnStart(t *testing.T) {
	t.Parallel()

	firer := &recordingFirer{status: pipeline.StatusFinished}
	s, err := New(firer, []Entry{{Resource: "account-list", Cron: "0 2 * * *"}}, Config{
		Enabled:       true,
		RunOnStart:    true,
		CheckInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(firer.fired()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := len(firer.fired()); got != 1 {
		t.Errorf("fired %d, want 1", got)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStartDisabledDoesNotFire(t *testing.T) {
	t.Parallel()

	firer := &recordingFirer{}
	s, err := New(firer, []Entry{{Resource: "account-list", Every: time.Millisecond}}, Config{
		Enabled:       false,
		RunOnStart:    true,
		CheckInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := len(firer.fired()); got != 0 {
		t.Errorf("fired %d, want 0", got)
	}
}
