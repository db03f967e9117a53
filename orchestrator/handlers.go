// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/dispatch"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/guardrail"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/retry"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/selection"
)

// healthHandler reports service liveness and component state.
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := s.registry.Healthy()
	response := map[string]interface{}{
		"status":           "healthy",
		"uptime_seconds":   int64(time.Since(s.startedAt).Seconds()),
		"backends_total":   len(s.registry.List()),
		"backends_healthy": len(healthy),
		"objective":        s.objectives.Get(),
		"ledger_degraded":  s.ledger.Degraded(),
	}
	if len(healthy) == 0 {
		response["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, response)
}

// metricsHandler returns a JSON operational snapshot.
func (s *Service) metricsHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.budget.Status(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pending, err := s.queue.List(r.Context(), retry.StatusPending, 0)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends":      s.registry.List(),
		"budget":        status,
		"objective":     s.objectives.Get(),
		"retry_pending": len(pending),
	})
}

// dispatchHandler is the main generation endpoint.
func (s *Service) dispatchHandler(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		writeError(w, "Missing prompt", http.StatusBadRequest)
		return
	}

	mode := "interactive"
	if req.Background {
		mode = "background"
	}

	start := time.Now()
	result, err := s.dispatcher.Dispatch(r.Context(), req)
	promRequestDuration.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))

	if result != nil {
		for _, attempt := range result.Attempts {
			promBackendCalls.WithLabelValues(attempt.BackendID, "failed").Inc()
		}
		if result.BackendID != "" && !result.CacheHit {
			promBackendCalls.WithLabelValues(result.BackendID, "success").Inc()
		}
		if result.CacheHit {
			promCacheHits.Inc()
		}
		if result.Deferred {
			promDeferredRequests.Inc()
		}
	}

	if err != nil {
		promRequestsTotal.WithLabelValues("failed").Inc()
		response := map[string]interface{}{
			"error":   http.StatusText(http.StatusBadGateway),
			"message": err.Error(),
		}
		if result != nil {
			response["attempts"] = result.Attempts
		}
		writeJSON(w, http.StatusBadGateway, response)
		return
	}

	switch {
	case result.Deferred:
		promRequestsTotal.WithLabelValues("deferred").Inc()
		writeJSON(w, http.StatusAccepted, result)
	default:
		promRequestsTotal.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, result)
	}
}

// RegisterBackendRequest is the request body for registering a backend.
type RegisterBackendRequest struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Kind        string  `json:"kind"`
	Endpoint    string  `json:"endpoint"`
	Credential  string  `json:"credential,omitempty"`
	CostPerCall float64 `json:"cost_per_call"`
}

// registerBackendHandler handles POST /api/v1/backends.
func (s *Service) registerBackendHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	desc := backend.Descriptor{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Kind:        backend.Kind(req.Kind),
		Endpoint:    req.Endpoint,
		Credential:  req.Credential,
		CostPerCall: req.CostPerCall,
	}
	invoker := backend.NewHTTPInvoker(desc, s.cfg.AttemptTimeout)
	if err := s.registry.Register(desc, invoker); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	registered, err := s.registry.Get(req.ID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}

// listBackendsHandler handles GET /api/v1/backends.
func (s *Service) listBackendsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": s.registry.List(),
	})
}

// deactivateBackendHandler handles DELETE /api/v1/backends/{id}.
func (s *Service) deactivateBackendHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Deactivate(id); err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deactivated"})
}

// probeBackendHandler handles POST /api/v1/backends/{id}/probe.
func (s *Service) probeBackendHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	desc, err := s.registry.Probe(r.Context(), id)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// probeAllHandler handles POST /api/v1/backends/probe.
func (s *Service) probeAllHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ProbeAll(r.Context()))
}

// getObjectiveHandler handles GET /api/v1/objective.
func (s *Service) getObjectiveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"objective": string(s.objectives.Get()),
	})
}

// setObjectiveHandler handles PUT /api/v1/objective. Manual overrides
// hold until the next budget adjustment cycle.
func (s *Service) setObjectiveHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Objective string `json:"objective"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !selection.IsValidObjective(req.Objective) {
		writeError(w, "Unknown objective: "+req.Objective, http.StatusBadRequest)
		return
	}

	s.objectives.Set(selection.Objective(req.Objective))
	writeJSON(w, http.StatusOK, map[string]string{"objective": req.Objective})
}

// getGuardrailPolicyHandler handles GET /api/v1/guardrail/policy.
func (s *Service) getGuardrailPolicyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.validator.Policy())
}

// reloadGuardrailPolicyHandler handles PUT /api/v1/guardrail/policy.
func (s *Service) reloadGuardrailPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var policy guardrail.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := policy.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.validator.Reload(policy)
	writeJSON(w, http.StatusOK, policy)
}

// listRetriesHandler handles GET /api/v1/retries.
func (s *Service) listRetriesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := retry.Status(query.Get("status"))
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.queue.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// getRetryHandler handles GET /api/v1/retries/{id}.
func (s *Service) getRetryHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.queue.Get(r.Context(), mux.Vars(r)["id"])
	if err == retry.ErrNotFound {
		writeError(w, "Retry record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// retryHistoryHandler handles GET /api/v1/retries/{id}/history.
func (s *Service) retryHistoryHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// resolveRetryHandler handles POST /api/v1/retries/{id}/resolve.
func (s *Service) resolveRetryHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.queue.Resolve(r.Context(), mux.Vars(r)["id"])
	if err == retry.ErrNotFound {
		writeError(w, "Retry record not found", http.StatusNotFound)
		return
	}
	if err == retry.ErrStaleStatus {
		writeError(w, "Only failed records can be resolved", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// failRetryHandler handles POST /api/v1/retries/{id}/fail. An optional
// JSON body {"reason": "..."} overrides the recorded error message.
func (s *Service) failRetryHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	record, err := s.queue.Fail(r.Context(), mux.Vars(r)["id"], body.Reason)
	if err == retry.ErrNotFound {
		writeError(w, "Retry record not found", http.StatusNotFound)
		return
	}
	if err == retry.ErrStaleStatus {
		writeError(w, "Only pending records can be failed", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// sweepRetriesHandler handles POST /api/v1/retries/sweep.
func (s *Service) sweepRetriesHandler(w http.ResponseWriter, r *http.Request) {
	attempted, err := s.sweeper.SweepOnce(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"attempted": attempted})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
