// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cost_ledger").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	entry := NewEntry(CategoryGenerationCall, "gpt", 0.1, map[string]string{"request_id": "r1"})

	mock.ExpectQuery("INSERT INTO cost_ledger").
		WithArgs(entry.Timestamp, entry.Category, entry.BackendID, entry.AmountUSD, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
	if entry.ID != 42 {
		t.Errorf("entry ID = %d, want 42", entry.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresAppendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	entry := NewEntry(CategoryGenerationCall, "gpt", 0.1, nil)

	mock.ExpectQuery("INSERT INTO cost_ledger").
		WillReturnError(context.DeadlineExceeded)

	if err := repo.Append(context.Background(), entry); err == nil {
		t.Error("expected error")
	}
}

func TestPostgresEntriesForPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	ts := start.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "timestamp", "category", "backend_id", "amount_usd", "metadata"}).
		AddRow(int64(1), ts, "generation-call", "gpt", 0.1, []byte(`{"request_id":"r1"}`)).
		AddRow(int64(2), ts.Add(time.Hour), "avoided-via-cache", "gpt", 0.1, []byte(nil))

	mock.ExpectQuery("SELECT id, timestamp, category, backend_id, amount_usd, metadata").
		WithArgs(start, end).
		WillReturnRows(rows)

	entries, err := repo.EntriesForPeriod(context.Background(), start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Metadata["request_id"] != "r1" {
		t.Errorf("metadata not decoded: %+v", entries[0].Metadata)
	}
	if entries[1].Category != CategoryAvoidedViaCache {
		t.Errorf("category = %s", entries[1].Category)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresTotalForPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(CategoryGenerationCall, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12.5))

	total, err := repo.TotalForPeriod(context.Background(), CategoryGenerationCall, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if total != 12.5 {
		t.Errorf("total = %f, want 12.5", total)
	}
}

func TestPostgresBreakdownByBackend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows := sqlmock.NewRows([]string{"backend_id", "sum", "count"}).
		AddRow("gpt", 7.5, 75).
		AddRow("llama", 2.5, 500)

	mock.ExpectQuery("SELECT backend_id, COALESCE").
		WithArgs(CategoryGenerationCall, start, end).
		WillReturnRows(rows)

	items, err := repo.BreakdownByBackend(context.Background(), start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Percentage != 75 || items[1].Percentage != 25 {
		t.Errorf("percentages = %f/%f, want 75/25", items[0].Percentage, items[1].Percentage)
	}
}

func TestPostgresDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)
	horizon := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM cost_ledger").
		WithArgs(horizon).
		WillReturnResult(sqlmock.NewResult(0, 17))

	removed, err := repo.DeleteOlderThan(context.Background(), horizon)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 17 {
		t.Errorf("removed = %d, want 17", removed)
	}
}
