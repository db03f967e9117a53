// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"time"
)

// Repository defines the interface for retry queue persistence.
type Repository interface {
	// Insert stores a new record.
	Insert(ctx context.Context, record *Record) error

	// Get returns a record by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns records filtered by status (all statuses when empty),
	// newest first.
	List(ctx context.Context, status Status, limit int) ([]*Record, error)

	// Due returns pending records whose NextEligibleAt is at or before
	// now, oldest eligibility first, capped at limit.
	Due(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// Update rewrites a record's mutable fields only if its stored
	// status and attempt counter still match the expectations; returns
	// ErrStaleStatus otherwise. The conditional write is how a sweeper
	// claims a record, so concurrent sweepers never run the same
	// attempt twice.
	Update(ctx context.Context, record *Record, expectStatus Status, expectAttempt int) error

	// AppendHistory records one attempt outcome.
	AppendHistory(ctx context.Context, entry *HistoryEntry) error

	// History returns a record's attempt history, oldest first.
	History(ctx context.Context, recordID string) ([]*HistoryEntry, error)
}
