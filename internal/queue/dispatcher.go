// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/metrics"
	"github.com/tomtom215/pagesync/internal/pipeline"
)

// Metadata keys set on every job message.
const (
	MetadataScope = "scope"
	MetadataRunID = "run_id"
	MetadataPage  = "page"
)

// ErrDispatcherClosed is returned by Enqueue after Close.
var ErrDispatcherClosed = errors.New("queue: dispatcher closed")

// jobNamespace seeds deterministic message ids.
var jobNamespace = uuid.MustParse("6f1c9a52-5c0e-4b8e-9d1a-3f6f0c2d7b41")

// MessageID returns the message id of a job. A redelivered step re-enqueues
// the same next page under the same id, which the broker deduplicates.
func MessageID(job pipeline.Job) string {
	return uuid.NewSHA1(jobNamespace, []byte(job.DedupKey())).String()
}

// Dispatcher publishes continuation jobs. It implements pipeline.Dispatcher.
type Dispatcher struct {
	publisher message.Publisher

	mu     sync.RWMutex
	closed bool
}

var _ pipeline.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher on publisher.
func NewDispatcher(publisher message.Publisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

// Enqueue publishes job on the queue topic.
func (d *Dispatcher) Enqueue(ctx context.Context, queue string, job pipeline.Job) (err error) {
	defer func() { metrics.RecordDispatch(queue, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	payload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	id := MessageID(job)
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, id)
	msg.Metadata.Set(MetadataScope, job.Scope.Key())
	msg.Metadata.Set(MetadataRunID, string(job.RunID))
	msg.Metadata.Set(MetadataPage, fmt.Sprintf("%d", job.Cursor.Page))
	msg.SetContext(ctx)

	if err := d.publisher.Publish(queue, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	logging.PipelineFields(logging.Ctx(ctx).Debug(), job.Scope.Key(), string(job.RunID), job.Cursor.Page).
		Str("queue", queue).
		Str("message_id", id).
		Msg("Job enqueued")
	return nil
}

// Close stops further publishing. The publisher itself belongs to the Transport.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
