// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package retry implements the durable retry queue for background
// requests that exhausted their failover chain. Records persist across
// restarts and become eligible again on an exponential backoff schedule.
package retry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a retry record.
type Status string

const (
	// StatusPending means the record is waiting for its next attempt.
	StatusPending Status = "pending"

	// StatusSucceeded means a retry attempt completed; the record is
	// kept for history but never picked up again.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means all attempts were exhausted and an operator
	// was alerted.
	StatusFailed Status = "failed"
)

const (
	// DefaultMaxAttempts bounds retries per record.
	DefaultMaxAttempts = 3

	// BaseBackoff is the delay before the first retry.
	BaseBackoff = 30 * time.Second

	// MaxBackoff caps the exponential schedule.
	MaxBackoff = 10 * time.Minute

	// SweepBatchSize bounds how many due records one sweep processes.
	SweepBatchSize = 10
)

var (
	// ErrNotFound is returned when a retry record does not exist.
	ErrNotFound = errors.New("retry record not found")

	// ErrStaleStatus is returned when a conditional status update lost
	// a race with another writer.
	ErrStaleStatus = errors.New("retry record status changed concurrently")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid retry record")
)

// Record is one deferred background request.
type Record struct {
	ID             string          `json:"id"`
	TaskKind       string          `json:"task_kind"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	NextEligibleAt time.Time       `json:"next_eligible_at"`
	Status         Status          `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewRecord creates a pending record scheduled for its first retry.
func NewRecord(taskKind string, payload json.RawMessage, lastError string, now time.Time) *Record {
	return &Record{
		ID:             uuid.New().String(),
		TaskKind:       taskKind,
		Payload:        payload,
		Attempt:        0,
		MaxAttempts:    DefaultMaxAttempts,
		NextEligibleAt: now.Add(Backoff(0)),
		Status:         StatusPending,
		LastError:      lastError,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks record fields before persistence.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if r.TaskKind == "" {
		return fmt.Errorf("%w: missing task kind", ErrInvalidRecord)
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidRecord)
	}
	switch r.Status {
	case StatusPending, StatusSucceeded, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	return nil
}

// Backoff returns the delay before the given attempt number (zero-based):
// 30s, 60s, 120s, doubling up to the 10-minute cap.
func Backoff(attempt int) time.Duration {
	d := BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// HistoryEntry records one retry attempt's outcome for audit.
type HistoryEntry struct {
	ID         int64     `json:"id,omitempty"`
	RecordID   string    `json:"record_id"`
	Attempt    int       `json:"attempt"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
