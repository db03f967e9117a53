// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package cost provides the append-only cost ledger, the budget
// controller, and the strategy auto-optimizer. The ledger is the single
// source of truth for all spend aggregates; budget status is always
// derived from it on demand, never stored.
package cost

import "time"

// Category classifies a ledger entry.
type Category string

const (
	// CategoryGenerationCall is billed spend for a dispatched call.
	CategoryGenerationCall Category = "generation-call"

	// CategoryAvoidedViaCache is spend avoided by a cache hit. Reported
	// separately, never netted against billed spend.
	CategoryAvoidedViaCache Category = "avoided-via-cache"
)

// IsValidCategory checks if a string is a valid ledger category.
func IsValidCategory(s string) bool {
	switch Category(s) {
	case CategoryGenerationCall, CategoryAvoidedViaCache:
		return true
	}
	return false
}

// Entry is a single immutable ledger record.
type Entry struct {
	ID        int64             `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Category  Category          `json:"category"`
	BackendID string            `json:"backend_id"`
	AmountUSD float64           `json:"amount_usd"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEntry creates a ledger entry stamped with the current UTC time.
func NewEntry(category Category, backendID string, amountUSD float64, metadata map[string]string) *Entry {
	return &Entry{
		Timestamp: time.Now().UTC(),
		Category:  category,
		BackendID: backendID,
		AmountUSD: amountUSD,
		Metadata:  metadata,
	}
}

// PeriodTotals aggregates ledger entries over a time range.
type PeriodTotals struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	GenerationUSD float64   `json:"generation_usd"`
	AvoidedUSD    float64   `json:"avoided_usd"`
	GenerationCnt int       `json:"generation_count"`
	AvoidedCnt    int       `json:"avoided_count"`
}

// BackendBreakdownItem is one backend's share of billed spend.
type BackendBreakdownItem struct {
	BackendID  string  `json:"backend_id"`
	AmountUSD  float64 `json:"amount_usd"`
	CallCount  int     `json:"call_count"`
	Percentage float64 `json:"percentage"`
}

// BudgetState classifies spend against the configured budget.
type BudgetState string

const (
	StateNormal   BudgetState = "normal"
	StateWarning  BudgetState = "warning"
	StateCritical BudgetState = "critical"
)

// BudgetConfig is the declared monthly budget and its alert thresholds.
type BudgetConfig struct {
	MonthlyBudgetUSD float64 `json:"monthly_budget_usd" yaml:"monthly_budget_usd"`
	WarningPercent   float64 `json:"warning_percent" yaml:"warning_percent"`
	CriticalPercent  float64 `json:"critical_percent" yaml:"critical_percent"`
}

// DefaultBudgetConfig returns the default thresholds (warn 80%,
// critical 95%).
func DefaultBudgetConfig(monthlyUSD float64) BudgetConfig {
	return BudgetConfig{
		MonthlyBudgetUSD: monthlyUSD,
		WarningPercent:   80,
		CriticalPercent:  95,
	}
}

// BudgetStatus is derived from the ledger on demand. Spent always equals
// the sum of generation-call entries in the current period.
type BudgetStatus struct {
	BudgetUSD    float64     `json:"budget_usd"`
	SpentUSD     float64     `json:"spent_usd"`
	PercentUsed  float64     `json:"percent_used"`
	ProjectedUSD float64     `json:"projected_usd"`
	State        BudgetState `json:"state"`
	PeriodStart  time.Time   `json:"period_start"`
	PeriodEnd    time.Time   `json:"period_end"`
	ComputedAt   time.Time   `json:"computed_at"`
}
