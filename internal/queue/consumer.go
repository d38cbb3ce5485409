// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/metrics"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/scope"
)

// Consume results, used as a metrics label.
const (
	resultHandled   = "handled"
	resultMalformed = "malformed"
	resultPoisoned  = "poisoned"
)

// Stepper executes one job. *pipeline.Runner implements it.
type Stepper interface {
	Step(ctx context.Context, job pipeline.Job) pipeline.Outcome
}

// Releaser frees a scope lock held by a run. *lock.Manager implements it.
type Releaser interface {
	Release(ctx context.Context, s scope.Scope, runID scope.RunID) (bool, error)
}

// ConsumerConfig configures the router.
type ConsumerConfig struct {
	// Queue is the topic jobs are consumed from.
	Queue string

	// PoisonQueue receives jobs that failed every retry. Empty disables it.
	PoisonQueue string

	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultConsumerConfig returns production defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Queue:                pipeline.DefaultConfig().Queue,
		PoisonQueue:          pipeline.DefaultConfig().Queue + "-poison",
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
		RetryMultiplier:      2.0,
	}
}

// errMalformed marks payloads that no retry can fix.
var errMalformed = errors.New("queue: malformed job payload")

// Consumer runs runner steps for jobs taken off the queue.
type Consumer struct {
	cfg       ConsumerConfig
	router    *message.Router
	stepper   Stepper
	releaser  Releaser
	logger    watermill.LoggerAdapter
	processed atomic.Int64
}

// NewConsumer wires a Watermill router for transport. Middleware order, outer
// to inner: poison queue, retry, panic recovery.
func NewConsumer(cfg ConsumerConfig, transport *Transport, stepper Stepper, releaser Releaser, logger watermill.LoggerAdapter) (*Consumer, error) {
	if logger == nil {
		logger = Logger()
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue: consumer topic is required")
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	c := &Consumer{
		cfg:      cfg,
		router:   wmRouter,
		stepper:  stepper,
		releaser: releaser,
		logger:   logger,
	}

	if cfg.PoisonQueue != "" {
		poison, err := middleware.PoisonQueue(transport.Publisher, cfg.PoisonQueue)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return !errors.Is(params.Err, errMalformed)
		},
		Logger: logger,
	}
	wmRouter.AddMiddleware(retry.Middleware, middleware.Recoverer)

	wmRouter.AddConsumerHandler("pipeline-step", cfg.Queue, transport.Subscriber, c.handle)

	if cfg.PoisonQueue != "" && releaser != nil {
		wmRouter.AddConsumerHandler("pipeline-poison", cfg.PoisonQueue, transport.Subscriber, c.handlePoison)
	}

	return c, nil
}

// handle decodes one job and runs its step. Aborted and stale outcomes are
// acknowledged: the runner has already applied the lock release policy and
// the cursor keeps the progress, so redelivery would only repeat the failure.
func (c *Consumer) handle(msg *message.Message) error {
	job, err := pipeline.DecodeJob(msg.Payload)
	if err != nil {
		metrics.RecordConsume(c.cfg.Queue, resultMalformed)
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	ctx := logging.ContextWithCorrelationID(msg.Context(), string(job.RunID))
	out := c.stepper.Step(ctx, job)
	metrics.RecordConsume(c.cfg.Queue, resultHandled)
	c.processed.Add(1)

	if out.Err != nil {
		logging.PipelineFields(logging.Ctx(ctx).Warn(), job.Scope.Key(), string(job.RunID), job.Cursor.Page).
			Str("status", string(out.Status)).
			Str("kind", string(pipeline.KindOf(out.Err))).
			Err(out.Err).
			Msg("Step ended without progress")
	}
	return nil
}

// poisonedJob is decoded without validation so a lock can still be released
// for a job whose payload fails Job.Validate.
type poisonedJob struct {
	Scope scope.Scope `json:"scope"`
	RunID scope.RunID `json:"run_id"`
}

func (c *Consumer) handlePoison(msg *message.Message) error {
	metrics.RecordConsume(c.cfg.PoisonQueue, resultPoisoned)
	reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey)

	var job poisonedJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil || job.Scope.Resource == "" || job.RunID == "" {
		logging.Error().
			Str("message_id", msg.UUID).
			Str("reason", reason).
			Msg("Poisoned job names no scope, nothing to release")
		return nil
	}

	// Errors are not returned: a failing poison handler would poison itself.
	// An unreleased lock still expires after its TTL.
	released, err := c.releaser.Release(msg.Context(), job.Scope, job.RunID)
	if err != nil {
		logging.Error().Err(err).
			Str("scope", job.Scope.Key()).
			Str("run_id", string(job.RunID)).
			Msg("Failed to release lock of poisoned job")
		return nil
	}
	logging.Error().
		Str("scope", job.Scope.Key()).
		Str("run_id", string(job.RunID)).
		Str("reason", reason).
		Bool("released", released).
		Msg("Job poisoned, chain stopped")
	return nil
}

// Run starts the router and blocks until ctx is cancelled or Close is called.
func (c *Consumer) Run(ctx context.Context) error {
	return c.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (c *Consumer) Running() <-chan struct{} {
	return c.router.Running()
}

// IsRunning reports whether the router is processing messages.
func (c *Consumer) IsRunning() bool {
	return c.router.IsRunning()
}

// Processed returns how many jobs reached the runner.
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// Close stops the router, waiting up to CloseTimeout for in-flight steps.
func (c *Consumer) Close() error {
	return c.router.Close()
}
