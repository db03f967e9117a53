// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository. It backs tests and the
// degraded mode when PostgreSQL is unavailable; records do not survive a
// restart in that mode.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	history map[string][]*HistoryEntry
	histID  int64
}

// NewMemoryRepository creates an empty in-memory retry repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
		history: make(map[string][]*HistoryEntry),
	}
}

func (m *MemoryRepository) Insert(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryRepository) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, record := range m.records {
		if status != "" && record.Status != status {
			continue
		}
		clone := *record
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryRepository) Due(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, record := range m.records {
		if record.Status != StatusPending || record.NextEligibleAt.After(now) {
			continue
		}
		clone := *record
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextEligibleAt.Before(result[j].NextEligibleAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryRepository) Update(ctx context.Context, record *Record, expectStatus Status, expectAttempt int) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[record.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expectStatus || stored.Attempt != expectAttempt {
		return ErrStaleStatus
	}
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *MemoryRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histID++
	clone := *entry
	clone.ID = m.histID
	entry.ID = m.histID
	m.history[entry.RecordID] = append(m.history[entry.RecordID], &clone)
	return nil
}

func (m *MemoryRepository) History(ctx context.Context, recordID string) ([]*HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[recordID]
	result := make([]*HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		clone := *entry
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	return result, nil
}
