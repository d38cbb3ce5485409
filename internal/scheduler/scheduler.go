// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package scheduler fires sync runs for configured resource scopes on cron
// or fixed-interval schedules.
//
// Every activation goes through the same Trigger a manual request uses, so a
// scope that is still running from the previous activation simply reports
// already_running and is picked up again at the next one.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/scope"
)

// Entry is one scheduled scope.
type Entry struct {
	Resource string
	Params   map[string]string

	// Exactly one of Cron and Every is set.
	Cron  string
	Every time.Duration

	// PageSize overrides the runner default when positive.
	PageSize int
}

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often due entries are looked for.
	CheckInterval time.Duration

	// FireTimeout bounds the first page step a trigger runs in-process.
	FireTimeout time.Duration

	// MaxConcurrentFires bounds simultaneous triggers within one check.
	MaxConcurrentFires int

	// RunOnStart fires every entry once when the scheduler starts.
	RunOnStart bool

	// Timezone for cron expressions; empty means UTC.
	Timezone string

	Enabled bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:      15 * time.Second,
		FireTimeout:        5 * time.Minute,
		MaxConcurrentFires: 4,
		Enabled:            true,
	}
}

type job struct {
	entry    Entry
	key      string
	schedule Schedule
	next     time.Time
}

// Scheduler fires a Firer for due entries.
type Scheduler struct {
	firer  pipeline.Firer
	config Config
	logger zerolog.Logger
	now    func() time.Time

	jobs []*job

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New validates entries and returns a scheduler.
func New(firer pipeline.Firer, entries []Entry, config Config) (*Scheduler, error) {
	def := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.FireTimeout <= 0 {
		config.FireTimeout = def.FireTimeout
	}
	if config.MaxConcurrentFires <= 0 {
		config.MaxConcurrentFires = def.MaxConcurrentFires
	}

	var loc *time.Location
	if config.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(config.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
		}
	}

	s := &Scheduler{
		firer:  firer,
		config: config,
		logger: logging.WithComponent("scheduler"),
		now:    time.Now,
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		sc, err := scope.New(e.Resource, e.Params)
		if err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if seen[sc.Key()] {
			return nil, fmt.Errorf("schedule %d: scope %s is scheduled twice", i, sc.Key())
		}
		seen[sc.Key()] = true

		schedule, err := scheduleFor(e, loc)
		if err != nil {
			return nil, fmt.Errorf("schedule %d (%s): %w", i, sc.Key(), err)
		}
		s.jobs = append(s.jobs, &job{entry: e, key: sc.Key(), schedule: schedule})
	}
	return s, nil
}

func scheduleFor(e Entry, loc *time.Location) (Schedule, error) {
	switch {
	case e.Cron != "" && e.Every > 0:
		return nil, fmt.Errorf("cron and every are mutually exclusive")
	case e.Cron != "":
		return ParseCron(e.Cron, loc)
	case e.Every > 0:
		return Every(e.Every), nil
	default:
		return nil, fmt.Errorf("one of cron or every is required")
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !s.config.Enabled || len(s.jobs) == 0 {
		s.logger.Info().Bool("enabled", s.config.Enabled).Int("entries", len(s.jobs)).Msg("Scheduler idle")
		go func() {
			defer close(s.doneCh)
			<-s.stopCh
		}()
		return nil
	}

	now := s.now()
	for _, j := range s.jobs {
		if s.config.RunOnStart {
			j.next = now
		} else {
			j.next = j.schedule.Next(now)
		}
		s.logger.Info().Str("scope", j.key).Time("next", j.next).Msg("Scope scheduled")
	}

	go s.run(ctx)
	return nil
}

// Stop stops the scheduler loop and waits for in-flight triggers.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.check(ctx, s.now())
	for {
		select {
		case <-ticker.C:
			s.check(ctx, s.now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// check fires every entry due at now and advances its next activation.
// It returns the number of entries fired.
func (s *Scheduler) check(ctx context.Context, now time.Time) int {
	var due []*job
	for _, j := range s.jobs {
		if j.next.IsZero() || j.next.After(now) {
			continue
		}
		due = append(due, j)
		j.next = j.schedule.Next(now)
	}
	if len(due) == 0 {
		return 0
	}

	sem := make(chan struct{}, s.config.MaxConcurrentFires)
	var wg sync.WaitGroup
	for _, j := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(j *job) {
			defer wg.Done()
			defer func() { <-sem }()

			fireCtx, cancel := context.WithTimeout(ctx, s.config.FireTimeout)
			defer cancel()
			s.fire(fireCtx, j)
		}(j)
	}
	wg.Wait()
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, j *job) {
	out := s.firer.Fire(ctx, pipeline.FireRequest{
		Resource: j.entry.Resource,
		Params:   j.entry.Params,
		PageSize: j.entry.PageSize,
		Source:   pipeline.SourceSchedule,
	})

	event := s.logger.Info()
	if out.TriggerResult() == "error" {
		event = s.logger.Error().Err(out.Err)
	}
	event.
		Str("scope", j.key).
		Str("run_id", string(out.RunID)).
		Str("result", out.TriggerResult()).
		Str("status", string(out.Status)).
		Time("next", j.next).
		Msg("Scheduled trigger fired")
}
