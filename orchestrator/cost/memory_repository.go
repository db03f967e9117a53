// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository implements Repository in memory. It backs tests and
// the degraded mode the ledger falls into while the database is down.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

// NewMemoryRepository creates an empty in-memory ledger repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1}
}

// Append stores a copy of the entry.
func (m *MemoryRepository) Append(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, *entry)
	return nil
}

// EntriesForPeriod returns entries within [start, end), oldest first.
func (m *MemoryRepository) EntriesForPeriod(ctx context.Context, start, end time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Entry
	for _, e := range m.entries {
		if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// TotalForPeriod sums amounts for one category within a period.
func (m *MemoryRepository) TotalForPeriod(ctx context.Context, category Category, start, end time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	for _, e := range m.entries {
		if e.Category == category && !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			total += e.AmountUSD
		}
	}
	return total, nil
}

// BreakdownByBackend aggregates billed spend per backend for a period.
func (m *MemoryRepository) BreakdownByBackend(ctx context.Context, start, end time.Time) ([]BackendBreakdownItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBackend := make(map[string]*BackendBreakdownItem)
	total := 0.0
	for _, e := range m.entries {
		if e.Category != CategoryGenerationCall || e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		item, ok := byBackend[e.BackendID]
		if !ok {
			item = &BackendBreakdownItem{BackendID: e.BackendID}
			byBackend[e.BackendID] = item
		}
		item.AmountUSD += e.AmountUSD
		item.CallCount++
		total += e.AmountUSD
	}

	items := make([]BackendBreakdownItem, 0, len(byBackend))
	for _, item := range byBackend {
		if total > 0 {
			item.Percentage = item.AmountUSD / total * 100
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].AmountUSD > items[j].AmountUSD })
	return items, nil
}

// DeleteOlderThan removes entries older than the horizon.
func (m *MemoryRepository) DeleteOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.Timestamp.Before(horizon) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

// Ping always succeeds.
func (m *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored entries. Test helper.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
