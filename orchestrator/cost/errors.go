// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import "errors"

var (
	// ErrInvalidEntry is returned for a malformed ledger entry.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrInvalidCategory is returned for an unknown ledger category.
	ErrInvalidCategory = errors.New("invalid ledger category")

	// ErrInvalidBudget is returned when the configured budget is not positive.
	ErrInvalidBudget = errors.New("monthly budget must be greater than 0")

	// ErrInvalidThresholds is returned when warn/critical thresholds are
	// out of order or out of range.
	ErrInvalidThresholds = errors.New("thresholds must satisfy 0 < warning < critical <= 100")

	// ErrRepositoryUnavailable is returned when the backing store cannot
	// be reached. The ledger degrades to in-memory operation on it.
	ErrRepositoryUnavailable = errors.New("cost repository unavailable")
)

// Validate checks an entry before it is appended.
func (e *Entry) Validate() error {
	if e == nil {
		return ErrInvalidEntry
	}
	if !IsValidCategory(string(e.Category)) {
		return ErrInvalidCategory
	}
	if e.BackendID == "" {
		return ErrInvalidEntry
	}
	if e.AmountUSD < 0 {
		return ErrInvalidEntry
	}
	return nil
}

// Validate checks a budget configuration.
func (c BudgetConfig) Validate() error {
	if c.MonthlyBudgetUSD <= 0 {
		return ErrInvalidBudget
	}
	if c.WarningPercent <= 0 || c.CriticalPercent <= c.WarningPercent || c.CriticalPercent > 100 {
		return ErrInvalidThresholds
	}
	return nil
}
