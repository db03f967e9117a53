// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	// rollingWindowSize is the number of recent call outcomes kept per
	// backend for success-rate and latency statistics.
	rollingWindowSize = 50

	// DegradedSuccessFloor is the rolling success rate (percent) below
	// which a routable backend is marked degraded instead of healthy.
	DegradedSuccessFloor = 50.0

	// DefaultProbeTimeout bounds a single synthetic health probe.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultProbeInterval is how often the background probe loop runs.
	DefaultProbeInterval = 5 * time.Minute
)

// probePrompt is the minimal synthetic request sent by health probes.
var probePrompt = Request{Prompt: "ping", TaskType: "health-probe", MaxTokens: 1}

// backendState holds a backend's descriptor, its invoker, and the rolling
// outcome window. Each state carries its own mutex so concurrent outcome
// updates for different backends never contend (per-id serialization).
type backendState struct {
	mu       sync.Mutex
	desc     Descriptor
	invoker  Invoker
	outcomes []outcome // ring buffer, newest last, capped at rollingWindowSize
}

type outcome struct {
	success   bool
	latencyMs float64
}

func (s *backendState) record(success bool, latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, outcome{success: success, latencyMs: latencyMs})
	if len(s.outcomes) > rollingWindowSize {
		s.outcomes = s.outcomes[len(s.outcomes)-rollingWindowSize:]
	}

	successes := 0
	totalLatency := 0.0
	for _, o := range s.outcomes {
		if o.success {
			successes++
		}
		totalLatency += o.latencyMs
	}
	s.desc.SuccessRate = float64(successes) / float64(len(s.outcomes)) * 100
	s.desc.AvgLatencyMs = totalLatency / float64(len(s.outcomes))

	// A successful live call brings an offline backend back without
	// waiting for the next probe.
	if success && s.desc.Status == StatusOffline {
		s.desc.Status = StatusHealthy
	}

	// Routable backends oscillate between healthy and degraded on the
	// rolling success rate. Offline is only set and cleared by probes
	// and the live-call recovery above.
	if s.desc.Status != StatusOffline {
		if s.desc.SuccessRate < DegradedSuccessFloor {
			s.desc.Status = StatusDegraded
		} else {
			s.desc.Status = StatusHealthy
		}
	}
}

func (s *backendState) snapshot() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

func (s *backendState) setStatus(status Status, probedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desc.Status = status
	s.desc.LastProbedAt = probedAt
}

// Registry tracks registered backends and their health. It is safe for
// concurrent use. Backends are never deleted, only deactivated.
//
// Routability transitions are intentionally binary with lag: a failed
// probe marks a backend offline, the next successful probe or live call
// brings it back. Among routable backends the rolling success rate
// distinguishes healthy from degraded; there is no half-open
// probationary state.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*backendState
	premium  string // ID of the designated premium backend

	probeTimeout time.Duration
	logger       *log.Logger
	now          func() time.Time
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.probeTimeout = d
	}
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a new backend registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		backends:     make(map[string]*backendState),
		probeTimeout: DefaultProbeTimeout,
		logger:       log.New(os.Stdout, "[BACKEND_REGISTRY] ", log.LstdFlags),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a backend with its invoker. Registration is idempotent by
// ID: re-registering an existing backend updates its static metadata and
// invoker but preserves rolling statistics.
func (r *Registry) Register(desc Descriptor, invoker Invoker) error {
	if desc.ID == "" {
		return fmt.Errorf("backend id is required")
	}
	if !IsValidKind(string(desc.Kind)) {
		return fmt.Errorf("invalid backend kind %q", desc.Kind)
	}
	if invoker == nil {
		return fmt.Errorf("invoker is required for backend %q", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.Kind == KindPremium && r.premium != "" && r.premium != desc.ID {
		return fmt.Errorf("premium backend already registered as %q", r.premium)
	}

	if existing, ok := r.backends[desc.ID]; ok {
		existing.mu.Lock()
		existing.desc.DisplayName = desc.DisplayName
		existing.desc.Kind = desc.Kind
		existing.desc.Endpoint = desc.Endpoint
		existing.desc.Credential = desc.Credential
		existing.desc.CostPerCall = desc.CostPerCall
		existing.desc.Active = true
		existing.invoker = invoker
		existing.mu.Unlock()
		r.logger.Printf("Re-registered backend %s (kind: %s)", desc.ID, desc.Kind)
	} else {
		desc.Status = StatusHealthy
		desc.SuccessRate = 100
		desc.Active = true
		desc.RegisteredAt = r.now()
		r.backends[desc.ID] = &backendState{desc: desc, invoker: invoker}
		r.logger.Printf("Registered backend %s (kind: %s, cost/call: $%.4f)", desc.ID, desc.Kind, desc.CostPerCall)
	}

	if desc.Kind == KindPremium {
		r.premium = desc.ID
	}
	return nil
}

// Deactivate removes a backend from routing without deleting it.
func (r *Registry) Deactivate(id string) error {
	r.mu.RLock()
	state, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("backend %q not found", id)
	}

	state.mu.Lock()
	state.desc.Active = false
	state.mu.Unlock()
	r.logger.Printf("Deactivated backend %s", id)
	return nil
}

// Get returns the descriptor snapshot for a backend.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	state, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("backend %q not found", id)
	}
	return state.snapshot(), nil
}

// Invoker returns the invoker for a backend.
func (r *Registry) Invoker(id string) (Invoker, error) {
	r.mu.RLock()
	state, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %q not found", id)
	}
	state.mu.Lock()
	inv := state.invoker
	state.mu.Unlock()
	return inv, nil
}

// List returns descriptor snapshots for all registered backends, sorted by ID.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	states := make([]*backendState, 0, len(r.backends))
	for _, s := range r.backends {
		states = append(states, s)
	}
	r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(states))
	for _, s := range states {
		descs = append(descs, s.snapshot())
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs
}

// Healthy returns snapshots of all active backends currently routable,
// healthy or degraded. An empty result means the dispatcher must fall
// through to the premium backend as last resort.
func (r *Registry) Healthy() []Descriptor {
	var healthy []Descriptor
	for _, d := range r.List() {
		if d.Active && d.Status != StatusOffline {
			healthy = append(healthy, d)
		}
	}
	return healthy
}

// Premium returns the designated premium backend.
func (r *Registry) Premium() (Descriptor, error) {
	r.mu.RLock()
	id := r.premium
	r.mu.RUnlock()
	if id == "" {
		return Descriptor{}, fmt.Errorf("no premium backend registered")
	}
	return r.Get(id)
}

// RecordOutcome updates a backend's rolling success rate and latency after
// a live call. Unknown IDs are ignored with a warning rather than failing
// the dispatch path.
func (r *Registry) RecordOutcome(id string, success bool, latencyMs float64) {
	r.mu.RLock()
	state, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		r.logger.Printf("Warning: outcome recorded for unknown backend %q", id)
		return
	}
	state.record(success, latencyMs)
}

// Probe sends a minimal synthetic request to a backend, measures latency,
// and updates its status: failure marks it offline, success marks it
// healthy again.
func (r *Registry) Probe(ctx context.Context, id string) (Descriptor, error) {
	r.mu.RLock()
	state, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("backend %q not found", id)
	}

	state.mu.Lock()
	inv := state.invoker
	state.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := r.now()
	_, err := inv.Invoke(probeCtx, probePrompt)
	latency := r.now().Sub(start)

	if err != nil {
		state.setStatus(StatusOffline, r.now())
		r.logger.Printf("Probe failed for backend %s: %v (marked offline)", id, err)
	} else {
		state.setStatus(StatusHealthy, r.now())
		state.record(true, float64(latency.Milliseconds()))
	}
	return state.snapshot(), nil
}

// ProbeAll probes every active backend. Called by the background probe
// loop and by the admin surface for immediate re-checks.
func (r *Registry) ProbeAll(ctx context.Context) map[string]Descriptor {
	results := make(map[string]Descriptor)
	for _, d := range r.List() {
		if !d.Active {
			continue
		}
		snap, err := r.Probe(ctx, d.ID)
		if err != nil {
			continue
		}
		results[d.ID] = snap
	}
	return results
}

// StartPeriodicProbe starts a background goroutine probing all backends on
// the given interval until the context is cancelled.
func (r *Registry) StartPeriodicProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	r.logger.Printf("Starting periodic health probes (every %v)", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Println("Stopping periodic health probes")
				return
			case <-ticker.C:
				results := r.ProbeAll(ctx)
				offline := 0
				for _, d := range results {
					if d.Status == StatusOffline {
						offline++
					}
				}
				if offline > 0 {
					r.logger.Printf("Probe sweep: %d/%d backends offline", offline, len(results))
				}
			}
		}
	}()
}
