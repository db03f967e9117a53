// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL retry repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the retry tables if they don't exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS retry_queue (
		id VARCHAR(255) PRIMARY KEY,
		task_kind VARCHAR(100) NOT NULL,
		payload JSONB,
		attempt INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		next_eligible_at TIMESTAMP NOT NULL,
		status VARCHAR(20) NOT NULL,
		last_error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS retry_history (
		id BIGSERIAL PRIMARY KEY,
		record_id VARCHAR(255) NOT NULL,
		attempt INTEGER NOT NULL,
		succeeded BOOLEAN NOT NULL,
		error TEXT,
		occurred_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retry_queue_due ON retry_queue(status, next_eligible_at);
	CREATE INDEX IF NOT EXISTS idx_retry_history_record_id ON retry_history(record_id);
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create retry schema: %w", err)
	}
	return nil
}

// Insert stores a new retry record.
func (r *PostgresRepository) Insert(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO retry_queue (id, task_kind, payload, attempt, max_attempts,
			next_eligible_at, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.TaskKind, []byte(record.Payload),
		record.Attempt, record.MaxAttempts, record.NextEligibleAt,
		record.Status, nullString(record.LastError),
		record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert retry record: %w", err)
	}
	return nil
}

// Get returns a record by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, task_kind, payload, attempt, max_attempts,
			next_eligible_at, status, last_error, created_at, updated_at
		FROM retry_queue WHERE id = $1`

	record, err := r.scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry record: %w", err)
	}
	return record, nil
}

// List returns records filtered by status, newest first. A limit of zero
// or less returns everything, same as the in-memory repository.
func (r *PostgresRepository) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	query := `
		SELECT id, task_kind, payload, attempt, max_attempts,
			next_eligible_at, status, last_error, created_at, updated_at
		FROM retry_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	// LIMIT NULL disables the clause without needing a second query.
	var max sql.NullInt64
	if limit > 0 {
		max = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, query, string(status), max)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry records: %w", err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

// Due returns pending records eligible at or before now.
func (r *PostgresRepository) Due(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	query := `
		SELECT id, task_kind, payload, attempt, max_attempts,
			next_eligible_at, status, last_error, created_at, updated_at
		FROM retry_queue
		WHERE status = $1 AND next_eligible_at <= $2
		ORDER BY next_eligible_at ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due retry records: %w", err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

// Update rewrites a record's mutable fields under a status-and-attempt
// precondition.
func (r *PostgresRepository) Update(ctx context.Context, record *Record, expectStatus Status, expectAttempt int) error {
	if err := record.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE retry_queue
		SET attempt = $1, next_eligible_at = $2, status = $3,
			last_error = $4, updated_at = $5
		WHERE id = $6 AND status = $7 AND attempt = $8`

	result, err := r.db.ExecContext(ctx, query,
		record.Attempt, record.NextEligibleAt, record.Status,
		nullString(record.LastError), record.UpdatedAt,
		record.ID, expectStatus, expectAttempt)
	if err != nil {
		return fmt.Errorf("failed to update retry record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, record.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

// AppendHistory records one attempt outcome.
func (r *PostgresRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	query := `
		INSERT INTO retry_history (record_id, attempt, succeeded, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		entry.RecordID, entry.Attempt, entry.Succeeded,
		nullString(entry.Error), entry.OccurredAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append retry history: %w", err)
	}
	return nil
}

// History returns a record's attempt history, oldest first.
func (r *PostgresRepository) History(ctx context.Context, recordID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, record_id, attempt, succeeded, error, occurred_at
		FROM retry_history
		WHERE record_id = $1
		ORDER BY occurred_at ASC`

	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry := &HistoryEntry{}
		var errMsg sql.NullString
		if err := rows.Scan(&entry.ID, &entry.RecordID, &entry.Attempt,
			&entry.Succeeded, &errMsg, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan retry history: %w", err)
		}
		entry.Error = errMsg.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepository) scanRecord(row rowScanner) (*Record, error) {
	record := &Record{}
	var payload []byte
	var lastError sql.NullString
	err := row.Scan(&record.ID, &record.TaskKind, &payload,
		&record.Attempt, &record.MaxAttempts, &record.NextEligibleAt,
		&record.Status, &lastError, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.Payload = payload
	record.LastError = lastError.String
	return record, nil
}

func (r *PostgresRepository) collectRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
