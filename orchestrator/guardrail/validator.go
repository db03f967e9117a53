// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package guardrail

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/complexity"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/selection"
	"github.com/lvruyi0102/nova-mind-router/shared/logger"
)

// Rule identifiers recorded in audit entries.
const (
	RuleHighQuality     = "high-quality-premium-only"
	RuleAggressiveFloor = "aggressive-zero-cost-floor"
	RuleNone            = "none"
)

// BackendView is the registry surface the validator consumes.
type BackendView interface {
	Get(id string) (backend.Descriptor, error)
	Healthy() []backend.Descriptor
	Premium() (backend.Descriptor, error)
}

// Outcome records a validation result. The embedded decision is the one
// the dispatcher must use: identical to the input when valid, replaced
// when corrected.
type Outcome struct {
	Decision  selection.Decision `json:"decision"`
	Corrected bool               `json:"corrected"`
	Rule      string             `json:"rule"`
	Reason    string             `json:"reason"`

	// ForcedObjective is non-empty when the correction also overrides the
	// objective for this call (high-quality corrections force quality).
	ForcedObjective selection.Objective `json:"forced_objective,omitempty"`
}

// Validator applies the guardrail policy to selection decisions.
type Validator struct {
	mu       sync.RWMutex
	policy   Policy
	backends BackendView
	auditLog *logger.Logger
}

// NewValidator creates a validator. The audit logger is required: every
// validation outcome is logged.
func NewValidator(policy Policy, backends BackendView, auditLog *logger.Logger) *Validator {
	if auditLog == nil {
		auditLog = logger.New("guardrail")
	}
	return &Validator{policy: policy, backends: backends, auditLog: auditLog}
}

// Policy returns the active policy.
func (v *Validator) Policy() Policy {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.policy
}

// Reload replaces the active policy. Called from the admin surface only.
func (v *Validator) Reload(policy Policy) {
	v.mu.Lock()
	v.policy = policy
	v.mu.Unlock()
	v.auditLog.Info("", "guardrail policy reloaded", map[string]interface{}{
		"high_quality_task_types": policy.HighQualityTaskTypes,
		"aggressive_floor_kind":   string(policy.AggressiveFloorKind),
	})
}

// Validate checks a selection decision against the policy. Rule order:
// (a) high-quality task types must go to the premium backend, (b) under
// the aggressive objective complex-tier tasks must not go to a zero-cost
// backend, (c) otherwise the decision stands.
func (v *Validator) Validate(requestID, taskType string, profile complexity.Profile, dec selection.Decision, objective selection.Objective) Outcome {
	v.mu.RLock()
	policy := v.policy
	v.mu.RUnlock()

	outcome := v.evaluate(policy, taskType, profile, dec, objective)
	v.audit(requestID, taskType, objective, dec, outcome)
	return outcome
}

func (v *Validator) evaluate(policy Policy, taskType string, profile complexity.Profile, dec selection.Decision, objective selection.Objective) Outcome {
	// Rule (a): premium-only task types. The profile flag and the policy
	// allow-list are evaluated together so a stale classifier config can
	// never relax the policy.
	if profile.RequiresHighQuality || policy.RequiresHighQuality(taskType) {
		premium, err := v.backends.Premium()
		if err != nil {
			// No premium backend registered: leave the decision alone but
			// record the violation for the operator.
			return Outcome{
				Decision: dec,
				Rule:     RuleHighQuality,
				Reason:   fmt.Sprintf("task type %q requires premium but no premium backend is registered", taskType),
			}
		}
		if dec.BackendID == premium.ID {
			return Outcome{Decision: dec, Rule: RuleNone, Reason: "premium already selected for high-quality task"}
		}
		corrected := dec
		corrected.BackendID = premium.ID
		corrected.Alternates = nil
		corrected.Reason = fmt.Sprintf("guardrail: task type %q requires premium backend", taskType)
		corrected.EstimatedCostUSD = premium.CostPerCall
		corrected.EstimatedLatencyMs = premium.AvgLatencyMs
		return Outcome{
			Decision:        corrected,
			Corrected:       true,
			Rule:            RuleHighQuality,
			Reason:          fmt.Sprintf("selection %q replaced by premium %q", dec.BackendID, premium.ID),
			ForcedObjective: selection.ObjectiveQuality,
		}
	}

	// Rule (b): aggressive cost mode never sends complex work to a
	// zero-cost backend.
	if objective == selection.ObjectiveAggressive && profile.Level == complexity.LevelComplex {
		chosen, err := v.backends.Get(dec.BackendID)
		if err == nil && !chosen.Kind.AtLeast(policy.AggressiveFloorKind) {
			replacement, ok := v.cheapestAtLeast(policy.AggressiveFloorKind)
			if !ok {
				var perr error
				replacement, perr = v.backends.Premium()
				if perr != nil {
					return Outcome{
						Decision: dec,
						Rule:     RuleAggressiveFloor,
						Reason:   "no paid backend available for complex task under aggressive objective",
					}
				}
			}
			corrected := dec
			corrected.BackendID = replacement.ID
			corrected.Alternates = nil
			corrected.Reason = "guardrail: complex task under aggressive objective requires a paid backend"
			corrected.EstimatedCostUSD = replacement.CostPerCall
			corrected.EstimatedLatencyMs = replacement.AvgLatencyMs
			return Outcome{
				Decision:  corrected,
				Corrected: true,
				Rule:      RuleAggressiveFloor,
				Reason:    fmt.Sprintf("zero-cost backend %q replaced by %q", dec.BackendID, replacement.ID),
			}
		}
	}

	// Rule (c): the selection stands.
	return Outcome{Decision: dec, Rule: RuleNone, Reason: "selection within policy"}
}

// cheapestAtLeast returns the cheapest healthy backend at or above the
// given kind, excluding premium (premium is the explicit fallback).
func (v *Validator) cheapestAtLeast(min backend.Kind) (backend.Descriptor, bool) {
	var eligible []backend.Descriptor
	for _, d := range v.backends.Healthy() {
		if d.Kind != backend.KindPremium && d.Kind.AtLeast(min) {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return backend.Descriptor{}, false
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CostPerCall < eligible[j].CostPerCall
	})
	return eligible[0], true
}

// audit emits the mandatory per-validation audit entry.
func (v *Validator) audit(requestID, taskType string, objective selection.Objective, original selection.Decision, outcome Outcome) {
	v.auditLog.Audit(requestID, "guardrail validation", map[string]interface{}{
		"task_type":        taskType,
		"objective":        string(objective),
		"original_backend": original.BackendID,
		"final_backend":    outcome.Decision.BackendID,
		"corrected":        outcome.Corrected,
		"rule":             outcome.Rule,
		"reason":           outcome.Reason,
	})
}
