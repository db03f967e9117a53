// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultRetentionHorizon is how long ledger entries are kept before the
// retention sweep may remove them.
const DefaultRetentionHorizon = 90 * 24 * time.Hour

// Ledger is the append-only cost log. While the primary repository is
// unreachable it degrades to an in-memory repository and logs a warning;
// routing never fails because cost persistence is down, at the price of
// losing cost data for that window.
type Ledger struct {
	primary   Repository
	fallback  *MemoryRepository
	retention time.Duration
	logger    *log.Logger
	now       func() time.Time

	mu       sync.RWMutex
	degraded bool
}

// LedgerOption configures the ledger.
type LedgerOption func(*Ledger)

// WithLedgerLogger sets a custom logger.
func WithLedgerLogger(logger *log.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithRetentionHorizon sets the retention horizon for the sweep.
func WithRetentionHorizon(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.retention = d
	}
}

// WithLedgerClock sets the time source. Used by tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a ledger over the given repository. A nil repository
// starts the ledger directly in in-memory mode.
func NewLedger(repo Repository, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		primary:   repo,
		fallback:  NewMemoryRepository(),
		retention: DefaultRetentionHorizon,
		logger:    log.New(os.Stdout, "[COST_LEDGER] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.primary == nil {
		l.primary = l.fallback
	}
	return l
}

// repo returns the repository to use, preferring the primary and probing
// it again once it has been marked degraded.
func (l *Ledger) repo(ctx context.Context) Repository {
	l.mu.RLock()
	degraded := l.degraded
	l.mu.RUnlock()

	if !degraded {
		return l.primary
	}
	if err := l.primary.Ping(ctx); err == nil {
		l.mu.Lock()
		l.degraded = false
		l.mu.Unlock()
		l.logger.Println("Primary cost repository recovered, leaving degraded mode")
		return l.primary
	}
	return l.fallback
}

func (l *Ledger) degrade(err error) {
	l.mu.Lock()
	already := l.degraded
	l.degraded = true
	l.mu.Unlock()
	if !already {
		l.logger.Printf("Warning: cost repository unavailable, degrading to in-memory ledger: %v", err)
	}
}

// Degraded reports whether the ledger is running in-memory only.
func (l *Ledger) Degraded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.degraded
}

// Record appends a cost event. Invalid entries are rejected; persistence
// failures degrade to the in-memory fallback rather than propagating.
func (l *Ledger) Record(ctx context.Context, category Category, backendID string, amountUSD float64, metadata map[string]string) error {
	entry := NewEntry(category, backendID, amountUSD, metadata)
	entry.Timestamp = l.now().UTC()
	if err := entry.Validate(); err != nil {
		return err
	}

	repo := l.repo(ctx)
	if err := repo.Append(ctx, entry); err != nil {
		if repo == l.primary {
			l.degrade(err)
			return l.fallback.Append(ctx, entry)
		}
		return err
	}
	return nil
}

// TotalsForPeriod derives aggregate totals for a period.
func (l *Ledger) TotalsForPeriod(ctx context.Context, start, end time.Time) (*PeriodTotals, error) {
	repo := l.repo(ctx)
	entries, err := repo.EntriesForPeriod(ctx, start, end)
	if err != nil {
		if repo == l.primary {
			l.degrade(err)
			entries, err = l.fallback.EntriesForPeriod(ctx, start, end)
		}
		if err != nil {
			return nil, err
		}
	}

	totals := &PeriodTotals{Start: start, End: end}
	for _, e := range entries {
		switch e.Category {
		case CategoryGenerationCall:
			totals.GenerationUSD += e.AmountUSD
			totals.GenerationCnt++
		case CategoryAvoidedViaCache:
			totals.AvoidedUSD += e.AmountUSD
			totals.AvoidedCnt++
		}
	}
	return totals, nil
}

// SpentForPeriod sums billed spend for a period. This is the value budget
// status is computed from.
func (l *Ledger) SpentForPeriod(ctx context.Context, start, end time.Time) (float64, error) {
	repo := l.repo(ctx)
	total, err := repo.TotalForPeriod(ctx, CategoryGenerationCall, start, end)
	if err != nil && repo == l.primary {
		l.degrade(err)
		return l.fallback.TotalForPeriod(ctx, CategoryGenerationCall, start, end)
	}
	return total, err
}

// BreakdownByBackend aggregates billed spend per backend for a period.
func (l *Ledger) BreakdownByBackend(ctx context.Context, start, end time.Time) ([]BackendBreakdownItem, error) {
	repo := l.repo(ctx)
	items, err := repo.BreakdownByBackend(ctx, start, end)
	if err != nil && repo == l.primary {
		l.degrade(err)
		return l.fallback.BreakdownByBackend(ctx, start, end)
	}
	return items, err
}

// CacheAvoidedTotal sums avoided-via-cache entries for a period. Used for
// reporting only, never netted against spend.
func (l *Ledger) CacheAvoidedTotal(ctx context.Context, start, end time.Time) (float64, error) {
	repo := l.repo(ctx)
	total, err := repo.TotalForPeriod(ctx, CategoryAvoidedViaCache, start, end)
	if err != nil && repo == l.primary {
		l.degrade(err)
		return l.fallback.TotalForPeriod(ctx, CategoryAvoidedViaCache, start, end)
	}
	return total, err
}

// RetentionSweep removes entries older than the retention horizon. The
// horizon is always well outside the current budget period, so period
// math is unaffected.
func (l *Ledger) RetentionSweep(ctx context.Context) (int64, error) {
	horizon := l.now().UTC().Add(-l.retention)
	removed, err := l.repo(ctx).DeleteOlderThan(ctx, horizon)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		l.logger.Printf("Retention sweep removed %d entries older than %v", removed, horizon.Format(time.RFC3339))
	}
	return removed, nil
}
