// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"net/http"
	"strings"
)

// healthReportHandler handles GET /api/v1/reports/health. Returns the
// backend fleet state as structured data plus a rendered text summary.
func (s *Service) healthReportHandler(w http.ResponseWriter, r *http.Request) {
	backends := s.registry.List()
	healthy := s.registry.Healthy()

	var b strings.Builder
	fmt.Fprintf(&b, "%d backend(s) registered, %d routable.\n", len(backends), len(healthy))
	for _, desc := range backends {
		fmt.Fprintf(&b, "- %s (%s): %s, %.1f%% success, %.0fms avg latency, $%.4f/call",
			desc.ID, desc.Kind, desc.Status, desc.SuccessRate, desc.AvgLatencyMs, desc.CostPerCall)
		if !desc.Active {
			b.WriteString(" [deactivated]")
		}
		b.WriteString("\n")
	}
	if len(healthy) == 0 {
		b.WriteString("WARNING: no routable backends; requests fall through to the premium fallback.\n")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":  b.String(),
		"backends": backends,
	})
}

// costReportHandler handles GET /api/v1/reports/cost. Combines budget
// status, period totals, and the per-backend breakdown.
func (s *Service) costReportHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.budget.Status(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	start, end := s.budget.CurrentPeriod()
	totals, err := s.ledger.TotalsForPeriod(r.Context(), start, end)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	breakdown, err := s.ledger.BreakdownByBackend(r.Context(), start, end)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Budget state: %s. Spent $%.2f of $%.2f (%.1f%%), projected $%.2f by period end.\n",
		status.State, status.SpentUSD, status.BudgetUSD, status.PercentUsed, status.ProjectedUSD)
	fmt.Fprintf(&b, "Cache avoided an estimated $%.2f this period (reporting only, not netted).\n",
		totals.AvoidedUSD)
	for _, item := range breakdown {
		fmt.Fprintf(&b, "- %s: $%.2f (%.1f%% of spend, %d calls)\n",
			item.BackendID, item.AmountUSD, item.Percentage, item.CallCount)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":   b.String(),
		"budget":    status,
		"totals":    totals,
		"breakdown": breakdown,
	})
}

// guardrailReportHandler handles GET /api/v1/reports/guardrail.
func (s *Service) guardrailReportHandler(w http.ResponseWriter, r *http.Request) {
	policy := s.validator.Policy()

	var b strings.Builder
	fmt.Fprintf(&b, "High-quality task types (always routed to the premium backend): %s.\n",
		strings.Join(policy.HighQualityTaskTypes, ", "))
	fmt.Fprintf(&b, "Aggressive-objective floor for complex tasks: %s or better.\n",
		policy.AggressiveFloorKind)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": b.String(),
		"policy":  policy,
	})
}
