// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package dispatch orchestrates the full routing pipeline: cache lookup,
// complexity classification, backend selection, guardrail validation,
// and the failover chain, with cost booking on every served response.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/complexity"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/cost"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/guardrail"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/retry"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/selection"
)

// DefaultAttemptTimeout bounds one backend invocation.
const DefaultAttemptTimeout = 30 * time.Second

// RetryTaskKind tags deferred generation requests in the retry queue.
const RetryTaskKind = "generation"

// ErrAllBackendsFailed is returned for interactive requests when every
// backend in the failover chain failed.
var ErrAllBackendsFailed = errors.New("all backends in failover chain failed")

// Request is one generation request entering the pipeline.
type Request struct {
	RequestID string   `json:"request_id,omitempty"`
	Prompt    string   `json:"prompt"`
	Context   []string `json:"context,omitempty"`
	TaskType  string   `json:"task_type,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`

	// CostCeilingUSD caps the per-call cost of the selected backend.
	// Zero means no ceiling.
	CostCeilingUSD float64 `json:"cost_ceiling_usd,omitempty"`

	// Background requests are deferred to the retry queue when the
	// failover chain is exhausted; interactive requests get the error.
	Background bool `json:"background,omitempty"`

	// DisablePremiumFallback opts this request out of the unconditional
	// premium fallback at the end of the chain.
	DisablePremiumFallback bool `json:"disable_premium_fallback,omitempty"`
}

// Attempt is one failed backend invocation in the failover trace.
type Attempt struct {
	BackendID string            `json:"backend_id"`
	Kind      backend.ErrorKind `json:"kind"`
	Error     string            `json:"error"`
	LatencyMs float64           `json:"latency_ms"`
}

// Result is the outcome of a dispatched request.
type Result struct {
	RequestID string              `json:"request_id"`
	Content   string              `json:"content,omitempty"`
	BackendID string              `json:"backend_id,omitempty"`
	Objective selection.Objective `json:"objective"`
	Profile   complexity.Profile  `json:"profile"`
	Guardrail *guardrail.Outcome  `json:"guardrail,omitempty"`
	CostUSD   float64             `json:"cost_usd"`
	CacheHit  bool                `json:"cache_hit"`
	LatencyMs float64             `json:"latency_ms"`

	// Deferred is set for background requests parked in the retry queue.
	Deferred      bool   `json:"deferred,omitempty"`
	RetryRecordID string `json:"retry_record_id,omitempty"`

	// Attempts is the failover trace: every failed invocation that
	// preceded the final outcome.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Dispatcher runs the routing pipeline.
type Dispatcher struct {
	classifier *complexity.Classifier
	strategy   *selection.Strategy
	validator  *guardrail.Validator
	backends   *backend.Registry
	objectives *selection.Store
	ledger     *cost.Ledger
	queue      *retry.Queue
	cache      *ResponseCache

	attemptTimeout time.Duration
	logger         *log.Logger
	now            func() time.Time
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAttemptTimeout sets the per-backend invocation timeout.
func WithAttemptTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.attemptTimeout = d
	}
}

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.logger = logger
	}
}

// WithDispatcherClock sets the time source. Used by tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.now = now
	}
}

// NewDispatcher wires the pipeline. Queue and cache may be nil: a nil
// queue turns background deferral off, a nil cache always misses.
func NewDispatcher(
	classifier *complexity.Classifier,
	strategy *selection.Strategy,
	validator *guardrail.Validator,
	backends *backend.Registry,
	objectives *selection.Store,
	ledger *cost.Ledger,
	queue *retry.Queue,
	cache *ResponseCache,
	opts ...DispatcherOption,
) *Dispatcher {
	dp := &Dispatcher{
		classifier:     classifier,
		strategy:       strategy,
		validator:      validator,
		backends:       backends,
		objectives:     objectives,
		ledger:         ledger,
		queue:          queue,
		cache:          cache,
		attemptTimeout: DefaultAttemptTimeout,
		logger:         log.New(os.Stdout, "[DISPATCHER] ", log.LstdFlags),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(dp)
	}
	if dp.cache == nil {
		dp.cache = NewResponseCache(nil, 0, dp.logger)
	}
	return dp
}

// Dispatch routes one request end to end.
func (dp *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	if cached, ok := dp.cache.Get(ctx, req.Prompt, req.TaskType); ok {
		return dp.serveFromCache(ctx, req, cached), nil
	}

	profile := dp.classifier.Classify(complexity.Input{
		Prompt:   req.Prompt,
		Context:  req.Context,
		TaskType: req.TaskType,
	})
	objective := dp.objectives.Get()

	result := &Result{
		RequestID: req.RequestID,
		Objective: objective,
		Profile:   profile,
	}

	decision, err := dp.strategy.Select(profile, objective, req.CostCeilingUSD)
	if err != nil {
		return dp.exhausted(ctx, req, result, err.Error())
	}

	outcome := dp.validator.Validate(req.RequestID, req.TaskType, profile, decision, objective)
	result.Guardrail = &outcome
	decision = outcome.Decision
	if outcome.ForcedObjective != "" {
		result.Objective = outcome.ForcedObjective
	}

	chain := dp.failoverChain(decision, req.DisablePremiumFallback)
	invokeReq := backend.Request{Prompt: req.Prompt, TaskType: req.TaskType, MaxTokens: req.MaxTokens}

	for _, id := range chain {
		if ctx.Err() != nil {
			return dp.exhausted(ctx, req, result, ctx.Err().Error())
		}

		resp, latencyMs, attemptErr := dp.invoke(ctx, id, invokeReq)
		dp.backends.RecordOutcome(id, attemptErr == nil, latencyMs)

		if attemptErr == nil {
			dp.served(ctx, req, result, id, resp, latencyMs)
			return result, nil
		}

		be := backend.AsError(id, attemptErr)
		result.Attempts = append(result.Attempts, Attempt{
			BackendID: id,
			Kind:      be.Kind,
			Error:     be.Message,
			LatencyMs: latencyMs,
		})
		dp.logger.Printf("Request %s: backend %s failed (%s), trying next in chain",
			req.RequestID, id, be.Kind)
	}

	lastErr := "no backend available"
	if n := len(result.Attempts); n > 0 {
		last := result.Attempts[n-1]
		lastErr = fmt.Sprintf("%s: %s", last.BackendID, last.Error)
	}
	return dp.exhausted(ctx, req, result, lastErr)
}

// RetryExecutor adapts the dispatcher for the retry sweeper. Replayed
// requests run as interactive so a failed replay surfaces an error and
// reschedules instead of re-enqueueing.
func (dp *Dispatcher) RetryExecutor() retry.Executor {
	return func(ctx context.Context, record *retry.Record) error {
		var req Request
		if err := json.Unmarshal(record.Payload, &req); err != nil {
			return fmt.Errorf("undecodable retry payload: %w", err)
		}
		req.Background = false
		_, err := dp.Dispatch(ctx, req)
		return err
	}
}

// failoverChain orders the backends to try: the chosen backend, its
// alternates, then the premium backend as the unconditional hard
// fallback unless the request opted out.
func (dp *Dispatcher) failoverChain(decision selection.Decision, disablePremium bool) []string {
	chain := make([]string, 0, len(decision.Alternates)+2)
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			chain = append(chain, id)
		}
	}

	add(decision.BackendID)
	for _, id := range decision.Alternates {
		add(id)
	}
	if !disablePremium {
		if premium, err := dp.backends.Premium(); err == nil {
			add(premium.ID)
		}
	}
	return chain
}

// invoke runs one backend attempt under the per-attempt timeout.
func (dp *Dispatcher) invoke(ctx context.Context, id string, req backend.Request) (*backend.Response, float64, error) {
	invoker, err := dp.backends.Invoker(id)
	if err != nil {
		return nil, 0, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, dp.attemptTimeout)
	defer cancel()

	start := dp.now()
	resp, err := invoker.Invoke(attemptCtx, req)
	latencyMs := float64(dp.now().Sub(start).Milliseconds())
	if err != nil {
		return nil, latencyMs, err
	}
	return resp, latencyMs, nil
}

// served books the cost of a successful invocation and fills the cache.
func (dp *Dispatcher) served(ctx context.Context, req Request, result *Result, id string, resp *backend.Response, latencyMs float64) {
	result.Content = resp.Content
	result.BackendID = id
	result.LatencyMs = latencyMs

	desc, err := dp.backends.Get(id)
	if err != nil {
		dp.logger.Printf("Warning: served from unknown backend %s, booking zero cost", id)
		return
	}
	result.CostUSD = desc.CostPerCall

	if err := dp.ledger.Record(ctx, cost.CategoryGenerationCall, id, desc.CostPerCall, map[string]string{
		"request_id": req.RequestID,
		"task_type":  req.TaskType,
	}); err != nil {
		dp.logger.Printf("Warning: failed to book generation cost: %v", err)
	}

	dp.cache.Put(ctx, req.Prompt, req.TaskType, resp, id, desc.CostPerCall)
}

// serveFromCache returns the cached response and books the avoided
// spend. Avoided entries are reporting-only; they never reduce billed
// totals.
func (dp *Dispatcher) serveFromCache(ctx context.Context, req Request, cached *cachedResponse) *Result {
	if err := dp.ledger.Record(ctx, cost.CategoryAvoidedViaCache, cached.BackendID, cached.CostPerCall, map[string]string{
		"request_id": req.RequestID,
		"task_type":  req.TaskType,
	}); err != nil {
		dp.logger.Printf("Warning: failed to book avoided cost: %v", err)
	}

	return &Result{
		RequestID: req.RequestID,
		Content:   cached.Content,
		BackendID: cached.BackendID,
		Objective: dp.objectives.Get(),
		CacheHit:  true,
	}
}

// exhausted finishes a request whose chain produced no response:
// background requests park in the retry queue, interactive requests get
// the failover trace back.
func (dp *Dispatcher) exhausted(ctx context.Context, req Request, result *Result, lastErr string) (*Result, error) {
	if req.Background && dp.queue != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			return result, fmt.Errorf("%w: %s", ErrAllBackendsFailed, lastErr)
		}
		record, err := dp.queue.Enqueue(ctx, RetryTaskKind, payload, lastErr)
		if err != nil {
			dp.logger.Printf("Warning: failed to defer request %s: %v", req.RequestID, err)
			return result, fmt.Errorf("%w: %s", ErrAllBackendsFailed, lastErr)
		}
		result.Deferred = true
		result.RetryRecordID = record.ID
		return result, nil
	}
	return result, fmt.Errorf("%w: %s", ErrAllBackendsFailed, lastErr)
}
