// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mockAlerter records delivered alerts.
type mockAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (m *mockAlerter) Notify(title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return nil
}

func (m *mockAlerter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.titles)
}

// midMonth is a fixed evaluation instant well inside a calendar month.
var midMonth = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func controllerWithSpend(t *testing.T, budgetUSD, spentUSD float64, alerter Alerter) *BudgetController {
	t.Helper()

	ledger := quietLedger(NewMemoryRepository(), WithLedgerClock(func() time.Time { return midMonth }))
	if spentUSD > 0 {
		if err := ledger.Record(context.Background(), CategoryGenerationCall, "gpt", spentUSD, nil); err != nil {
			t.Fatal(err)
		}
	}

	opts := []BudgetOption{WithBudgetClock(func() time.Time { return midMonth })}
	if alerter != nil {
		opts = append(opts, WithAlerter(alerter))
	}
	c, err := NewBudgetController(ledger, DefaultBudgetConfig(budgetUSD), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBudgetConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  BudgetConfig
		wantErr bool
	}{
		{"defaults are valid", DefaultBudgetConfig(100), false},
		{"zero budget", BudgetConfig{MonthlyBudgetUSD: 0, WarningPercent: 80, CriticalPercent: 95}, true},
		{"inverted thresholds", BudgetConfig{MonthlyBudgetUSD: 100, WarningPercent: 95, CriticalPercent: 80}, true},
		{"critical above 100", BudgetConfig{MonthlyBudgetUSD: 100, WarningPercent: 80, CriticalPercent: 101}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBudgetStates(t *testing.T) {
	tests := []struct {
		name  string
		spent float64
		want  BudgetState
	}{
		{"untouched budget is normal", 0, StateNormal},
		{"half used is normal", 50, StateNormal},
		{"just below warning", 79, StateNormal},
		{"at warning threshold", 80, StateWarning},
		{"between thresholds", 90, StateWarning},
		{"at critical threshold", 95, StateCritical},
		{"deep into critical", 96, StateCritical},
		{"over budget", 120, StateCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := controllerWithSpend(t, 100, tt.spent, nil)
			status, err := c.Status(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if status.State != tt.want {
				t.Errorf("state = %s (%.1f%%), want %s", status.State, status.PercentUsed, tt.want)
			}
			if status.SpentUSD != tt.spent {
				t.Errorf("spent = %f, want %f", status.SpentUSD, tt.spent)
			}
		})
	}
}

func TestBudgetStatusPeriodBounds(t *testing.T) {
	c := controllerWithSpend(t, 100, 10, nil)
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	wantStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !status.PeriodStart.Equal(wantStart) || !status.PeriodEnd.Equal(wantEnd) {
		t.Errorf("period = %v..%v, want calendar month", status.PeriodStart, status.PeriodEnd)
	}
}

func TestLinearEstimator(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	// 15 full days elapsed (day 16 counts as day 16): $32 spent over 16
	// elapsed days across a 31-day month projects 32/16*31 = $62.
	now := start.Add(15 * 24 * time.Hour)
	got := LinearEstimator(32, now, start, end)
	if got != 62 {
		t.Errorf("projection = %f, want 62", got)
	}

	// The projection never drops below spend already incurred.
	lastDay := end.Add(-time.Hour)
	if got := LinearEstimator(100, lastDay, start, end); got < 100 {
		t.Errorf("projection %f below incurred spend", got)
	}

	// Degenerate period falls back to spend.
	if got := LinearEstimator(10, start, start, start); got != 10 {
		t.Errorf("degenerate period projection = %f, want 10", got)
	}
}

func TestCheckOnceEdgeTriggeredAlerts(t *testing.T) {
	ctx := context.Background()
	alerter := &mockAlerter{}

	ledger := quietLedger(NewMemoryRepository(), WithLedgerClock(func() time.Time { return midMonth }))
	now := midMonth
	c, err := NewBudgetController(ledger, DefaultBudgetConfig(100),
		WithAlerter(alerter),
		WithBudgetClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	// Normal state: no alert.
	if _, err := c.CheckOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if alerter.count() != 0 {
		t.Fatalf("alerted in normal state: %v", alerter.titles)
	}

	// Cross into warning: exactly one alert.
	if err := ledger.Record(ctx, CategoryGenerationCall, "gpt", 85, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CheckOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if alerter.count() != 1 {
		t.Fatalf("expected 1 alert after warning escalation, got %d", alerter.count())
	}

	// Same state five minutes later: suppressed by cooldown.
	now = now.Add(5 * time.Minute)
	if _, err := c.CheckOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if alerter.count() != 1 {
		t.Fatalf("sustained warning re-alerted inside cooldown, got %d", alerter.count())
	}

	// Escalation to critical alerts immediately despite the cooldown.
	if err := ledger.Record(ctx, CategoryGenerationCall, "gpt", 11, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CheckOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if alerter.count() != 2 {
		t.Fatalf("expected alert on critical escalation, got %d", alerter.count())
	}

	// Sustained critical re-alerts only after the cooldown elapses.
	now = now.Add(30 * time.Minute)
	if _, err := c.CheckOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if alerter.count() != 2 {
		t.Fatalf("re-alerted before cooldown elapsed, got %d", alerter.count())
	}
	now = now.Add(time.Hour)
	if _, err := c.CheckOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if alerter.count() != 3 {
		t.Fatalf("expected re-alert after cooldown, got %d", alerter.count())
	}
}

func TestSetConfigRevalidates(t *testing.T) {
	c := controllerWithSpend(t, 100, 0, nil)

	if err := c.SetConfig(BudgetConfig{MonthlyBudgetUSD: -5, WarningPercent: 80, CriticalPercent: 95}); err == nil {
		t.Error("expected error for negative budget")
	}
	if err := c.SetConfig(DefaultBudgetConfig(500)); err != nil {
		t.Fatal(err)
	}
	if c.Config().MonthlyBudgetUSD != 500 {
		t.Errorf("budget = %f, want 500", c.Config().MonthlyBudgetUSD)
	}
}
