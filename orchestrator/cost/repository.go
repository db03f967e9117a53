// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"time"
)

// Repository defines the interface for ledger persistence. Entries are
// append-only: implementations expose no update path, and deletion exists
// only for the bounded retention sweep.
type Repository interface {
	// Append persists a new entry. The entry's ID is set on success.
	Append(ctx context.Context, entry *Entry) error

	// EntriesForPeriod returns entries with start <= timestamp < end,
	// oldest first.
	EntriesForPeriod(ctx context.Context, start, end time.Time) ([]Entry, error)

	// TotalForPeriod sums amounts for one category within a period.
	TotalForPeriod(ctx context.Context, category Category, start, end time.Time) (float64, error)

	// BreakdownByBackend aggregates billed spend per backend for a period.
	BreakdownByBackend(ctx context.Context, start, end time.Time) ([]BackendBreakdownItem, error)

	// DeleteOlderThan removes entries older than the horizon and returns
	// how many were removed. Used only by the retention sweep.
	DeleteOlderThan(ctx context.Context, horizon time.Time) (int64, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
