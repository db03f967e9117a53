// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	record := NewRecord("generation", json.RawMessage(`{"prompt":"x"}`), "boom", now)

	mock.ExpectExec("INSERT INTO retry_queue").
		WithArgs(record.ID, "generation", []byte(`{"prompt":"x"}`),
			0, DefaultMaxAttempts, record.NextEligibleAt,
			StatusPending, sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepository(db)
	if err := repo.Insert(context.Background(), record); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM retry_queue WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewPostgresRepository(db)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "task_kind", "payload", "attempt", "max_attempts",
		"next_eligible_at", "status", "last_error", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("r1", "generation", []byte(`{}`), 1, 3,
			now.Add(-time.Minute), "pending", "boom", now.Add(-time.Hour), now.Add(-time.Minute)).
		AddRow("r2", "generation", []byte(`{}`), 0, 3,
			now, "pending", nil, now.Add(-time.Minute), now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM retry_queue").
		WithArgs(StatusPending, now, SweepBatchSize).
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	due, err := repo.Due(context.Background(), now, SweepBatchSize)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != "r1" || due[0].LastError != "boom" {
		t.Errorf("due[0] = %+v", due[0])
	}
	if due[1].LastError != "" {
		t.Errorf("nil last_error should scan empty, got %q", due[1].LastError)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS retry_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresListUnlimited(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "task_kind", "payload", "attempt", "max_attempts",
		"next_eligible_at", "status", "last_error", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("r2", "generation", []byte(`{}`), 0, 3,
			now, "pending", nil, now, now).
		AddRow("r1", "generation", []byte(`{}`), 2, 3,
			now, "pending", "boom", now.Add(-time.Hour), now)

	// A zero limit must bind LIMIT NULL, not LIMIT 0.
	mock.ExpectQuery("SELECT (.+) FROM retry_queue").
		WithArgs(string(StatusPending), nil).
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	records, err := repo.List(context.Background(), StatusPending, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresListLimited(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "task_kind", "payload", "attempt", "max_attempts",
		"next_eligible_at", "status", "last_error", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("r1", "generation", []byte(`{}`), 0, 3,
			now, "pending", nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM retry_queue").
		WithArgs("", int64(1)).
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	records, err := repo.List(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresUpdateStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	record := NewRecord("generation", nil, "boom", now)
	record.Status = StatusSucceeded

	// Zero rows affected, but the record exists: a concurrent writer won.
	mock.ExpectExec("UPDATE retry_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))
	columns := []string{"id", "task_kind", "payload", "attempt", "max_attempts",
		"next_eligible_at", "status", "last_error", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM retry_queue WHERE id").
		WithArgs(record.ID).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(record.ID, "generation", []byte(`{}`), 1, 3,
				now, "succeeded", nil, now, now))

	repo := NewPostgresRepository(db)
	err = repo.Update(context.Background(), record, StatusPending, 0)
	if !errors.Is(err, ErrStaleStatus) {
		t.Errorf("err = %v, want ErrStaleStatus", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresUpdateMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	record := NewRecord("generation", nil, "boom", now)

	mock.ExpectExec("UPDATE retry_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM retry_queue WHERE id").
		WithArgs(record.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewPostgresRepository(db)
	err = repo.Update(context.Background(), record, StatusPending, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresAppendHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	entry := &HistoryEntry{RecordID: "r1", Attempt: 1, Succeeded: false, Error: "boom", OccurredAt: now}

	mock.ExpectQuery("INSERT INTO retry_history").
		WithArgs("r1", 1, false, sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	repo := NewPostgresRepository(db)
	if err := repo.AppendHistory(context.Background(), entry); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if entry.ID != 7 {
		t.Errorf("entry.ID = %d, want 7", entry.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
