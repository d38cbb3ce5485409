// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/lock"
	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/metrics"
	"github.com/tomtom215/pagesync/internal/scope"
)

// Config tunes the runner.
type Config struct {
	// PageSize is used for adapters that do not implement PageSizer.
	PageSize int

	// LockTTL bounds how long a crashed run keeps its scope locked.
	LockTTL time.Duration

	// Queue is the queue continuation jobs are enqueued on.
	Queue string

	// ReleaseOnAbort releases the lock when a fetch, apply or cursor write
	// fails, so the next trigger can resume from the persisted cursor at once.
	// When false the lock is held until its TTL elapses. A dispatch failure
	// always releases, and a lost lock is never touched.
	ReleaseOnAbort bool
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:       1000,
		LockTTL:        lock.DefaultTTL,
		Queue:          "sync-pages",
		ReleaseOnAbort: true,
	}
}

// Runner executes page steps for every registered resource type.
type Runner struct {
	cfg        Config
	registry   *Registry
	locks      Locker
	cursors    CursorStore
	dispatcher Dispatcher
	now        func() time.Time
}

// NewRunner wires a runner from its collaborators.
func NewRunner(cfg Config, registry *Registry, locks Locker, cursors CursorStore, dispatcher Dispatcher) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = lock.DefaultTTL
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultConfig().Queue
	}
	return &Runner{
		cfg:        cfg,
		registry:   registry,
		locks:      locks,
		cursors:    cursors,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// SetDispatcher replaces the dispatcher. The queue consumer and the runner
// reference each other, so one of them is wired after construction.
func (r *Runner) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// Registry returns the adapter registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// StartRequest describes a new run.
type StartRequest struct {
	Scope scope.Scope

	// RunID is optional; when empty the adapter's RunMode decides.
	RunID scope.RunID

	// PageSize is optional; when zero the adapter's or runner's default applies.
	PageSize int
}

// Start acquires the scope lock and runs the first page step in-process.
func (r *Runner) Start(ctx context.Context, req StartRequest) Outcome {
	out := Outcome{Status: StatusAborted, State: StateIdle, Scope: req.Scope, RunID: req.RunID}

	adapter, err := r.registry.Lookup(req.Scope.Resource)
	if err == nil {
		err = validateScope(adapter, req.Scope)
	}
	if err != nil {
		out.Err = &StepError{Kind: KindInvalid, ScopeKey: req.Scope.Key(), RunID: string(req.RunID), Err: err}
		return out
	}

	runID := req.RunID
	if runID == "" {
		runID = r.runIDFor(adapter)
	}
	out.RunID = runID
	ctx = logging.ContextWithCorrelationID(ctx, string(runID))

	res, err := r.locks.TryAcquire(ctx, req.Scope, runID, r.cfg.LockTTL)
	if err != nil {
		out.Err = &StepError{Kind: KindLock, ScopeKey: req.Scope.Key(), RunID: string(runID), Err: err}
		metrics.RecordStepError(req.Scope.Resource, string(KindLock))
		logging.PipelineFields(logging.Ctx(ctx).Error(), req.Scope.Key(), string(runID), 0).
			Err(err).Msg("Lock acquisition failed")
		return out
	}
	if res == lock.AlreadyRunning {
		out.Status = StatusAlreadyRunning
		logging.PipelineFields(logging.Ctx(ctx).Info(), req.Scope.Key(), string(runID), 0).
			Msg("Scope already running, trigger skipped")
		return out
	}

	pos, err := r.cursors.Get(ctx, req.Scope, runID, cursor.Start)
	if err != nil {
		out.State = StateLockAcquired
		return r.abort(ctx, out, KindCursorPersist, err)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = r.pageSizeFor(adapter)
	}

	logging.PipelineFields(logging.Ctx(ctx).Info(), req.Scope.Key(), string(runID), pos.Page).
		Int("page_size", pageSize).
		Msg("Run started")

	job := NewJob(req.Scope, runID, pos, pageSize, r.cfg.Queue).Continue(pos, r.now())
	return r.Step(ctx, job)
}

// Step executes one page of a chain. It assumes the lock was acquired by the
// job's run and re-validates that before reading and again before writing.
func (r *Runner) Step(ctx context.Context, job Job) (out Outcome) {
	started := r.now()
	ctx = logging.ContextWithCorrelationID(ctx, string(job.RunID))

	out = Outcome{
		Status: StatusAborted,
		State:  StateLockAcquired,
		Scope:  job.Scope,
		RunID:  job.RunID,
		Cursor: job.Cursor,
	}
	defer func() {
		metrics.RecordStep(job.Scope.Resource, string(out.Status), out.Fetched, out.Applied, r.now().Sub(started))
	}()

	if err := job.Validate(); err != nil {
		out.Err = &StepError{Kind: KindInvalid, ScopeKey: job.Scope.Key(), RunID: string(job.RunID), Cursor: job.Cursor, Err: err}
		out.State = StateAborted
		return out
	}

	adapter, err := r.registry.Lookup(job.Scope.Resource)
	if err != nil {
		return r.abort(ctx, out, KindInvalid, err)
	}

	if err := r.checkOwnership(ctx, job); err != nil {
		return r.abort(ctx, out, kindForOwnership(err), err)
	}

	stored, err := r.cursors.Get(ctx, job.Scope, job.RunID, job.Cursor)
	if err != nil {
		return r.abort(ctx, out, KindCursorPersist, err)
	}
	if stored.Page > job.Cursor.Page {
		out.Status = StatusStale
		out.State = StateIdle
		logging.PipelineFields(logging.Ctx(ctx).Info(), job.Scope.Key(), string(job.RunID), job.Cursor.Page).
			Int("stored_page", stored.Page).
			Msg("Skipping stale page job")
		return out
	}

	// Fetch
	fetchStart := r.now()
	req := PageRequest{Scope: job.Scope, RunID: job.RunID, Cursor: job.Cursor, PageSize: job.PageSize}
	page, err := adapter.Fetch(ctx, req)
	metrics.RecordPhase(job.Scope.Resource, "fetch", r.now().Sub(fetchStart))
	if err != nil {
		return r.abort(ctx, out, KindUpstreamFetch, err)
	}
	out.State = StatePageFetched
	out.Fetched = len(page.Records)
	records := skipThrough(page.Records, job.Cursor.LastID)

	// Apply
	if err := r.checkOwnership(ctx, job); err != nil {
		return r.abort(ctx, out, kindForOwnership(err), err)
	}
	if len(records) > 0 {
		applyStart := r.now()
		applied, err := adapter.Apply(ctx, records)
		metrics.RecordPhase(job.Scope.Resource, "apply", r.now().Sub(applyStart))
		if err != nil {
			return r.abort(ctx, out, KindApply, err)
		}
		out.Applied = applied
	}
	out.State = StatePageApplied

	next := page.Next
	if !page.More && resumes(adapter) {
		// Park on the last page: the next run re-reads it and the last-seen
		// skip drops what this run already applied.
		next = cursor.Position{Page: job.Cursor.Page, LastID: page.Next.LastID}
	}

	// Persist progress only now that the records are durable.
	if err := r.cursors.Set(ctx, job.Scope, job.RunID, next); err != nil {
		if errors.Is(err, cursor.ErrRegression) {
			out.Status = StatusStale
			logging.PipelineFields(logging.Ctx(ctx).Info(), job.Scope.Key(), string(job.RunID), job.Cursor.Page).
				Msg("Cursor already advanced by a concurrent delivery")
			return out
		}
		return r.abort(ctx, out, KindCursorPersist, err)
	}
	out.Next = next

	if !page.More {
		released, err := r.locks.Release(ctx, job.Scope, job.RunID)
		if err != nil {
			logging.PipelineFields(logging.Ctx(ctx).Warn(), job.Scope.Key(), string(job.RunID), next.Page).
				Err(err).Msg("Lock release failed, leaving it to expire")
		}
		out.Released = released
		out.Status = StatusFinished
		out.State = StateFinished
		logging.PipelineFields(logging.Ctx(ctx).Info(), job.Scope.Key(), string(job.RunID), next.Page).
			Int("fetched", out.Fetched).
			Int("applied", out.Applied).
			Msg("Run finished")
		return out
	}

	if err := r.dispatcher.Enqueue(ctx, r.queueFor(job), job.Continue(next, r.now())); err != nil {
		return r.abort(ctx, out, KindDispatch, err)
	}
	out.Status = StatusChained
	out.State = StateChainNext
	logging.PipelineFields(logging.Ctx(ctx).Debug(), job.Scope.Key(), string(job.RunID), next.Page).
		Int("fetched", out.Fetched).
		Int("applied", out.Applied).
		Msg("Next page enqueued")
	return out
}

// abort logs the failure with scope, run id and cursor, applies the lock
// release policy and returns the aborted outcome.
func (r *Runner) abort(ctx context.Context, out Outcome, kind ErrorKind, err error) Outcome {
	out.Status = StatusAborted
	out.State = StateAborted
	out.Err = &StepError{Kind: kind, ScopeKey: out.Scope.Key(), RunID: string(out.RunID), Cursor: out.Cursor, Err: err}
	metrics.RecordStepError(out.Scope.Resource, string(kind))

	if r.shouldRelease(kind) {
		released, relErr := r.locks.Release(ctx, out.Scope, out.RunID)
		if relErr != nil {
			logging.PipelineFields(logging.Ctx(ctx).Warn(), out.Scope.Key(), string(out.RunID), out.Cursor.Page).
				Err(relErr).Msg("Lock release after abort failed")
		}
		out.Released = released
	}

	logging.PipelineFields(logging.Ctx(ctx).Error(), out.Scope.Key(), string(out.RunID), out.Cursor.Page).
		Str(logging.FieldLastID, out.Cursor.LastID).
		Str("kind", string(kind)).
		Bool("lock_released", out.Released).
		Err(err).
		Msg("Page step aborted")
	return out
}

func (r *Runner) shouldRelease(kind ErrorKind) bool {
	switch kind {
	case KindLockLost, KindLock:
		return false
	case KindDispatch:
		return true
	default:
		return r.cfg.ReleaseOnAbort
	}
}

func (r *Runner) checkOwnership(ctx context.Context, job Job) error {
	owner, held, err := r.locks.Owner(ctx, job.Scope)
	if err != nil {
		return err
	}
	if !held || owner != job.RunID {
		return ErrLockLost
	}
	return nil
}

func kindForOwnership(err error) ErrorKind {
	if errors.Is(err, ErrLockLost) {
		return KindLockLost
	}
	return KindLock
}

// resumes reports whether a's cursor carries over from one run to the next.
func resumes(a Adapter) bool {
	m, ok := a.(RunModer)
	return ok && m.RunMode() == RunModeResume
}

func (r *Runner) runIDFor(a Adapter) scope.RunID {
	if resumes(a) {
		return scope.ContinuousRunID
	}
	return scope.NewRunID(r.now())
}

func (r *Runner) pageSizeFor(a Adapter) int {
	if p, ok := a.(PageSizer); ok && p.PageSize() > 0 {
		return p.PageSize()
	}
	return r.cfg.PageSize
}

func (r *Runner) queueFor(job Job) string {
	if job.Queue != "" {
		return job.Queue
	}
	return r.cfg.Queue
}

func validateScope(a Adapter, s scope.Scope) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if v, ok := a.(ScopeValidator); ok {
		return v.ValidateScope(s)
	}
	return nil
}

// skipThrough drops every record up to and including lastID when lastID is
// present in the page, which happens when upstream inserts shift the page
// boundaries between two fetches.
func skipThrough(records []SyncRecord, lastID string) []SyncRecord {
	if lastID == "" {
		return records
	}
	for i, rec := range records {
		if rec.ExternalID == lastID {
			return records[i+1:]
		}
	}
	return records
}
