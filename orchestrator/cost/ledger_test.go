// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// flakyRepository wraps MemoryRepository with switchable failure.
type flakyRepository struct {
	*MemoryRepository
	mu   sync.Mutex
	down bool
}

func newFlakyRepository() *flakyRepository {
	return &flakyRepository{MemoryRepository: NewMemoryRepository()}
}

func (f *flakyRepository) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyRepository) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *flakyRepository) Append(ctx context.Context, entry *Entry) error {
	if f.fail() {
		return ErrRepositoryUnavailable
	}
	return f.MemoryRepository.Append(ctx, entry)
}

func (f *flakyRepository) EntriesForPeriod(ctx context.Context, start, end time.Time) ([]Entry, error) {
	if f.fail() {
		return nil, ErrRepositoryUnavailable
	}
	return f.MemoryRepository.EntriesForPeriod(ctx, start, end)
}

func (f *flakyRepository) TotalForPeriod(ctx context.Context, category Category, start, end time.Time) (float64, error) {
	if f.fail() {
		return 0, ErrRepositoryUnavailable
	}
	return f.MemoryRepository.TotalForPeriod(ctx, category, start, end)
}

func (f *flakyRepository) Ping(ctx context.Context) error {
	if f.fail() {
		return ErrRepositoryUnavailable
	}
	return nil
}

func quietLedger(repo Repository, opts ...LedgerOption) *Ledger {
	opts = append(opts, WithLedgerLogger(log.New(io.Discard, "", 0)))
	return NewLedger(repo, opts...)
}

func wideWindow() (time.Time, time.Time) {
	return time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
}

func TestLedgerRecordAndTotals(t *testing.T) {
	ctx := context.Background()
	l := quietLedger(NewMemoryRepository())

	if err := l.Record(ctx, CategoryGenerationCall, "gpt", 0.25, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, CategoryGenerationCall, "llama", 0.5, map[string]string{"request_id": "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, CategoryAvoidedViaCache, "gpt", 0.25, nil); err != nil {
		t.Fatal(err)
	}

	start, end := wideWindow()
	totals, err := l.TotalsForPeriod(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if totals.GenerationUSD != 0.75 {
		t.Errorf("generation total = %f, want 0.75", totals.GenerationUSD)
	}
	if totals.GenerationCnt != 2 {
		t.Errorf("generation count = %d, want 2", totals.GenerationCnt)
	}
	// Avoided spend is tracked separately, never netted against billed
	if totals.AvoidedUSD != 0.25 || totals.AvoidedCnt != 1 {
		t.Errorf("avoided = %f/%d, want 0.25/1", totals.AvoidedUSD, totals.AvoidedCnt)
	}

	spent, err := l.SpentForPeriod(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0.75 {
		t.Errorf("spent = %f, want 0.75 (cache hits must not reduce it)", spent)
	}

	avoided, err := l.CacheAvoidedTotal(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if avoided != 0.25 {
		t.Errorf("avoided total = %f, want 0.25", avoided)
	}
}

func TestLedgerRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	l := quietLedger(NewMemoryRepository())

	if err := l.Record(ctx, "refund", "gpt", 0.1, nil); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("unknown category: err = %v", err)
	}
	if err := l.Record(ctx, CategoryGenerationCall, "", 0.1, nil); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("missing backend: err = %v", err)
	}
	if err := l.Record(ctx, CategoryGenerationCall, "gpt", -1, nil); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("negative amount: err = %v", err)
	}
}

func TestLedgerBreakdownByBackend(t *testing.T) {
	ctx := context.Background()
	l := quietLedger(NewMemoryRepository())

	for i := 0; i < 3; i++ {
		if err := l.Record(ctx, CategoryGenerationCall, "gpt", 0.25, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Record(ctx, CategoryGenerationCall, "llama", 0.25, nil); err != nil {
		t.Fatal(err)
	}

	start, end := wideWindow()
	items, err := l.BreakdownByBackend(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(items))
	}
	// Sorted by spend, largest first
	if items[0].BackendID != "gpt" || items[0].CallCount != 3 {
		t.Errorf("top item = %+v", items[0])
	}
	if items[0].Percentage != 75 {
		t.Errorf("gpt percentage = %f, want 75", items[0].Percentage)
	}
}

func TestLedgerDegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyRepository()
	l := quietLedger(repo)

	if err := l.Record(ctx, CategoryGenerationCall, "gpt", 0.1, nil); err != nil {
		t.Fatal(err)
	}

	// Outage: the record must still succeed via the in-memory fallback.
	repo.setDown(true)
	if err := l.Record(ctx, CategoryGenerationCall, "gpt", 0.2, nil); err != nil {
		t.Fatalf("record during outage failed: %v", err)
	}
	if !l.Degraded() {
		t.Error("ledger should report degraded during outage")
	}

	start, end := wideWindow()
	spent, err := l.SpentForPeriod(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0.2 {
		t.Errorf("degraded spend = %f, want 0.2 (fallback only)", spent)
	}

	// Recovery: the next operation probes the primary and leaves
	// degraded mode.
	repo.setDown(false)
	spent, err = l.SpentForPeriod(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0.1 {
		t.Errorf("recovered spend = %f, want 0.1 (primary data)", spent)
	}
	if l.Degraded() {
		t.Error("ledger should leave degraded mode after recovery")
	}
}

func TestLedgerRetentionSweep(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	l := quietLedger(repo,
		WithRetentionHorizon(90*24*time.Hour),
		WithLedgerClock(func() time.Time { return now }))

	old := NewEntry(CategoryGenerationCall, "gpt", 0.1, nil)
	old.Timestamp = now.Add(-100 * 24 * time.Hour)
	recent := NewEntry(CategoryGenerationCall, "gpt", 0.2, nil)
	recent.Timestamp = now.Add(-10 * 24 * time.Hour)
	if err := repo.Append(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := repo.Append(ctx, recent); err != nil {
		t.Fatal(err)
	}

	removed, err := l.RetentionSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if repo.Len() != 1 {
		t.Errorf("repo has %d entries, want 1", repo.Len())
	}
}
