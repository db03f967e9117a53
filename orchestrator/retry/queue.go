// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

// Queue is the enqueue-side API for the retry queue.
type Queue struct {
	repo   Repository
	logger *log.Logger
	now    func() time.Time
}

// QueueOption configures the queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a custom logger.
func WithQueueLogger(logger *log.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithQueueClock sets the time source. Used by tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates a queue over the given repository.
func NewQueue(repo Repository, opts ...QueueOption) *Queue {
	q := &Queue{
		repo:   repo,
		logger: log.New(os.Stdout, "[RETRY_QUEUE] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a failed background request for later retry and
// returns the new record.
func (q *Queue) Enqueue(ctx context.Context, taskKind string, payload json.RawMessage, lastError string) (*Record, error) {
	record := NewRecord(taskKind, payload, lastError, q.now().UTC())
	if err := q.repo.Insert(ctx, record); err != nil {
		return nil, err
	}
	q.logger.Printf("Enqueued %s record %s, first retry at %s",
		record.TaskKind, record.ID, record.NextEligibleAt.Format(time.RFC3339))
	return record, nil
}

// Get returns a record by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Record, error) {
	return q.repo.Get(ctx, id)
}

// List returns records filtered by status (all when empty).
func (q *Queue) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	return q.repo.List(ctx, status, limit)
}

// History returns a record's attempt history.
func (q *Queue) History(ctx context.Context, recordID string) ([]*HistoryEntry, error) {
	return q.repo.History(ctx, recordID)
}

// Resolve marks a failed record as succeeded after manual intervention.
// Only failed records can be resolved.
func (q *Queue) Resolve(ctx context.Context, id string) (*Record, error) {
	record, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Status = StatusSucceeded
	record.UpdatedAt = q.now().UTC()
	if err := q.repo.Update(ctx, record, StatusFailed, record.Attempt); err != nil {
		return nil, err
	}
	q.logger.Printf("Record %s manually resolved", id)
	return record, nil
}

// Fail marks a pending record as failed, cancelling its remaining retry
// attempts. Only pending records can be failed; the sweeper will no
// longer pick the record up.
func (q *Queue) Fail(ctx context.Context, id string, reason string) (*Record, error) {
	record, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Status = StatusFailed
	if reason != "" {
		record.LastError = reason
	}
	record.UpdatedAt = q.now().UTC()
	if err := q.repo.Update(ctx, record, StatusPending, record.Attempt); err != nil {
		return nil, err
	}
	q.logger.Printf("Record %s manually failed: %s", id, record.LastError)
	return record, nil
}
