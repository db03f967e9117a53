// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL ledger repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the ledger table if it doesn't exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS cost_ledger (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		category VARCHAR(50) NOT NULL,
		backend_id VARCHAR(255) NOT NULL,
		amount_usd DECIMAL(12, 6) NOT NULL,
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_cost_ledger_timestamp ON cost_ledger(timestamp);
	CREATE INDEX IF NOT EXISTS idx_cost_ledger_category ON cost_ledger(category);
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create cost ledger schema: %w", err)
	}
	return nil
}

// Append inserts a ledger entry.
func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO cost_ledger (timestamp, category, backend_id, amount_usd, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		entry.Timestamp, entry.Category, entry.BackendID, entry.AmountUSD, metadata,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// EntriesForPeriod returns entries within [start, end), oldest first.
func (r *PostgresRepository) EntriesForPeriod(ctx context.Context, start, end time.Time) ([]Entry, error) {
	query := `
		SELECT id, timestamp, category, backend_id, amount_usd, metadata
		FROM cost_ledger
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Category, &e.BackendID, &e.AmountUSD, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalForPeriod sums amounts for one category within a period.
func (r *PostgresRepository) TotalForPeriod(ctx context.Context, category Category, start, end time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount_usd), 0)
		FROM cost_ledger
		WHERE category = $1 AND timestamp >= $2 AND timestamp < $3
	`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, category, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return total, nil
}

// BreakdownByBackend aggregates billed spend per backend for a period.
func (r *PostgresRepository) BreakdownByBackend(ctx context.Context, start, end time.Time) ([]BackendBreakdownItem, error) {
	query := `
		SELECT backend_id, COALESCE(SUM(amount_usd), 0), COUNT(*)
		FROM cost_ledger
		WHERE category = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY backend_id
		ORDER BY SUM(amount_usd) DESC
	`

	rows, err := r.db.QueryContext(ctx, query, CategoryGenerationCall, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakdown: %w", err)
	}
	defer rows.Close()

	var items []BackendBreakdownItem
	total := 0.0
	for rows.Next() {
		var item BackendBreakdownItem
		if err := rows.Scan(&item.BackendID, &item.AmountUSD, &item.CallCount); err != nil {
			return nil, fmt.Errorf("failed to scan breakdown item: %w", err)
		}
		total += item.AmountUSD
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if total > 0 {
		for i := range items {
			items[i].Percentage = items[i].AmountUSD / total * 100
		}
	}
	return items, nil
}

// DeleteOlderThan removes entries older than the horizon.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cost_ledger WHERE timestamp < $1`, horizon)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old ledger entries: %w", err)
	}
	return result.RowsAffected()
}

// Ping reports whether the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
