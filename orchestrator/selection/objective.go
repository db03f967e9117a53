// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package selection picks a backend for a classified request according to
// the active optimization objective, and holds that objective in an
// atomically swapped store so in-flight selections always observe a
// fully-formed value.
package selection

import "sync/atomic"

// Objective is the optimization goal governing backend selection.
type Objective string

const (
	// ObjectiveCost picks the minimum cost-per-call candidate.
	ObjectiveCost Objective = "cost"

	// ObjectiveQuality picks the maximum rolling success rate.
	ObjectiveQuality Objective = "quality"

	// ObjectiveSpeed picks the minimum average latency.
	ObjectiveSpeed Objective = "speed"

	// ObjectiveBalanced combines cost, quality, and speed sub-scores.
	ObjectiveBalanced Objective = "balanced"

	// ObjectiveAggressive is the budget-pressure mode: ranks like cost,
	// with guardrails enforcing a paid floor for complex tasks.
	ObjectiveAggressive Objective = "aggressive"
)

// IsValidObjective checks if a string is a valid objective.
func IsValidObjective(s string) bool {
	switch Objective(s) {
	case ObjectiveCost, ObjectiveQuality, ObjectiveSpeed, ObjectiveBalanced, ObjectiveAggressive:
		return true
	}
	return false
}

// Store holds the active objective. Readers get either the old or the new
// value during a swap, never a partial one.
type Store struct {
	v atomic.Value
}

// NewStore creates a store initialized to the given objective.
func NewStore(initial Objective) *Store {
	s := &Store{}
	s.v.Store(initial)
	return s
}

// Get returns the active objective.
func (s *Store) Get() Objective {
	return s.v.Load().(Objective)
}

// Set atomically replaces the active objective.
func (s *Store) Set(o Objective) {
	s.v.Store(o)
}
