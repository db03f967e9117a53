// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package guardrail enforces hard routing policy on top of cost-driven
// selection. Guardrail corrections are mandatory: a selection the policy
// rejects is replaced, never merely flagged, and every validation outcome
// is audit logged whether or not a correction occurred.
package guardrail

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
)

// Policy is the static guardrail rule set. Loaded once at startup;
// changes require an explicit admin reload.
type Policy struct {
	// HighQualityTaskTypes are task labels that must be served by the
	// premium backend regardless of objective.
	HighQualityTaskTypes []string `yaml:"high_quality_task_types"`

	// AggressiveFloorKind is the minimum backend kind for complex-tier
	// tasks under the aggressive objective.
	AggressiveFloorKind backend.Kind `yaml:"aggressive_floor_kind"`
}

// DefaultPolicy returns the built-in rule set.
func DefaultPolicy() Policy {
	return Policy{
		HighQualityTaskTypes: []string{
			"ethical-reasoning",
			"core-self-reflection",
			"creative-generation",
		},
		AggressiveFloorKind: backend.KindLocalEconomy,
	}
}

// LoadPolicy reads a guardrail policy from a YAML file. Missing fields
// fall back to defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read guardrail policy: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse guardrail policy: %w", err)
	}
	if policy.AggressiveFloorKind == "" {
		policy.AggressiveFloorKind = backend.KindLocalEconomy
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate checks the rule set.
func (p Policy) Validate() error {
	if !backend.IsValidKind(string(p.AggressiveFloorKind)) {
		return fmt.Errorf("invalid aggressive floor kind %q", p.AggressiveFloorKind)
	}
	return nil
}

// RequiresHighQuality reports whether the task type is on the premium-only
// allow-list.
func (p Policy) RequiresHighQuality(taskType string) bool {
	t := strings.ToLower(strings.TrimSpace(taskType))
	for _, hq := range p.HighQualityTaskTypes {
		if strings.ToLower(hq) == t {
			return true
		}
	}
	return false
}
