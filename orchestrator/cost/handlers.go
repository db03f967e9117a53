// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for the budget and cost reporting APIs
type Handler struct {
	ledger *Ledger
	budget *BudgetController
}

// NewHandler creates a new cost handler
func NewHandler(ledger *Ledger, budget *BudgetController) *Handler {
	return &Handler{ledger: ledger, budget: budget}
}

// RegisterRoutes registers all cost control routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/budget", h.GetBudget).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/budget", h.UpdateBudget).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/v1/budget/status", h.GetBudgetStatus).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/usage", h.GetUsageSummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/breakdown", h.GetUsageBreakdown).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/ledger/retention-sweep", h.TriggerRetentionSweep).Methods("POST", "OPTIONS")
}

// GetBudget handles GET /api/v1/budget
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.writeJSON(w, http.StatusOK, h.budget.Config())
}

// UpdateBudget handles PUT /api/v1/budget
func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var config BudgetConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.budget.SetConfig(config); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, config)
}

// GetBudgetStatus handles GET /api/v1/budget/status
func (h *Handler) GetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	status, err := h.budget.Status(r.Context())
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// GetUsageSummary handles GET /api/v1/usage
func (h *Handler) GetUsageSummary(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, err := h.periodFromQuery(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	totals, err := h.ledger.TotalsForPeriod(r.Context(), start, end)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, totals)
}

// GetUsageBreakdown handles GET /api/v1/usage/breakdown
func (h *Handler) GetUsageBreakdown(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, err := h.periodFromQuery(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, err := h.ledger.BreakdownByBackend(r.Context(), start, end)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"start":    start,
		"end":      end,
		"backends": items,
	}
	h.writeJSON(w, http.StatusOK, response)
}

// TriggerRetentionSweep handles POST /api/v1/ledger/retention-sweep
func (h *Handler) TriggerRetentionSweep(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	removed, err := h.ledger.RetentionSweep(r.Context())
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// periodFromQuery parses optional start/end query params (RFC 3339),
// defaulting to the current calendar month.
func (h *Handler) periodFromQuery(r *http.Request) (time.Time, time.Time, error) {
	start, end := h.budget.CurrentPeriod()

	query := r.URL.Query()
	if raw := query.Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	}
	if raw := query.Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = parsed
	}
	return start, end, nil
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
