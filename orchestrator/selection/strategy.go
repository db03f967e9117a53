// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package selection

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/complexity"
)

// Reference ceilings used to normalize balanced sub-scores to 0-1.
const (
	refCostPerCall  = 0.10    // USD
	refLatencyMs    = 10000.0 // ms
)

// Balanced objective weights.
const (
	balancedCostWeight    = 0.3
	balancedQualityWeight = 0.4
	balancedSpeedWeight   = 0.3
)

// maxAlternates caps the ranked failover list in a decision.
const maxAlternates = 2

// BackendView is the registry surface the strategy consumes.
type BackendView interface {
	Healthy() []backend.Descriptor
	Premium() (backend.Descriptor, error)
}

// Decision is the outcome of a selection. Created per request, audit
// logged by the dispatcher, never persisted.
type Decision struct {
	BackendID          string   `json:"backend_id"`
	Alternates         []string `json:"alternates,omitempty"`
	Reason             string   `json:"reason"`
	EstimatedCostUSD   float64  `json:"estimated_cost_usd"`
	EstimatedLatencyMs float64  `json:"estimated_latency_ms"`
	Confidence         float64  `json:"confidence"`
}

// Strategy selects a backend given a complexity profile and the current
// objective.
type Strategy struct {
	backends BackendView
	logger   *log.Logger
}

// NewStrategy creates a selection strategy over the given backend view.
func NewStrategy(backends BackendView, logger *log.Logger) *Strategy {
	if logger == nil {
		logger = log.New(os.Stdout, "[SELECTION] ", log.LstdFlags)
	}
	return &Strategy{backends: backends, logger: logger}
}

// Select picks a backend for the profile under the given objective. A
// positive costCeiling restricts the choice to candidates within it.
// With no eligible candidates the premium backend is returned with reason
// "no local backend available".
func (s *Strategy) Select(profile complexity.Profile, objective Objective, costCeiling float64) (Decision, error) {
	healthy := s.backends.Healthy()
	candidates := s.filterByTier(profile, healthy)

	if len(candidates) == 0 {
		premium, err := s.backends.Premium()
		if err != nil {
			return Decision{}, fmt.Errorf("no candidates and no premium backend: %w", err)
		}
		return Decision{
			BackendID:          premium.ID,
			Reason:             "no local backend available",
			EstimatedCostUSD:   premium.CostPerCall,
			EstimatedLatencyMs: premium.AvgLatencyMs,
			Confidence:         profile.Confidence,
		}, nil
	}

	ranked := rank(candidates, objective)

	reason := fmt.Sprintf("%s tier, %s objective", profile.Level, objective)
	if costCeiling > 0 && ranked[0].CostPerCall > costCeiling {
		within := make([]backend.Descriptor, 0, len(candidates))
		for _, c := range candidates {
			if c.CostPerCall <= costCeiling {
				within = append(within, c)
			}
		}
		if len(within) > 0 {
			ranked = rank(within, objective)
			reason = fmt.Sprintf("%s tier, %s objective, restricted to cost ceiling $%.4f", profile.Level, objective, costCeiling)
		} else {
			s.logger.Printf("No candidate within cost ceiling $%.4f, keeping unrestricted ranking", costCeiling)
		}
	}

	chosen := ranked[0]
	dec := Decision{
		BackendID:          chosen.ID,
		Reason:             reason,
		EstimatedCostUSD:   chosen.CostPerCall,
		EstimatedLatencyMs: chosen.AvgLatencyMs,
		Confidence:         profile.Confidence,
	}
	for _, alt := range ranked[1:] {
		if len(dec.Alternates) == maxAlternates {
			break
		}
		dec.Alternates = append(dec.Alternates, alt.ID)
	}
	return dec, nil
}

// filterByTier returns the candidate set for the profile's complexity
// tier. Simple tasks prefer the cheap tiers, medium tasks the mid tiers
// with premium promotion for heavy creative or code work, complex tasks
// always consider the premium backend.
func (s *Strategy) filterByTier(profile complexity.Profile, healthy []backend.Descriptor) []backend.Descriptor {
	var preferred, fallback []backend.Descriptor

	for _, d := range healthy {
		switch profile.Level {
		case complexity.LevelSimple:
			if d.Kind == backend.KindLocalZeroCost || d.Kind == backend.KindLocalEconomy {
				preferred = append(preferred, d)
			} else {
				fallback = append(fallback, d)
			}
		case complexity.LevelMedium:
			switch d.Kind {
			case backend.KindLocalEconomy, backend.KindCustom:
				preferred = append(preferred, d)
			case backend.KindPremium:
				// Premium joins the medium pool only for heavy creative
				// work or code generation on large prompts.
				if (profile.RequiresCreativity || profile.ContainsCode) && profile.Score >= 55 {
					preferred = append(preferred, d)
				} else {
					fallback = append(fallback, d)
				}
			default:
				fallback = append(fallback, d)
			}
		default: // complex
			preferred = append(preferred, d)
		}
	}

	if len(preferred) > 0 {
		return preferred
	}
	return fallback
}

// rank orders candidates best-first for the objective.
func rank(candidates []backend.Descriptor, objective Objective) []backend.Descriptor {
	ranked := make([]backend.Descriptor, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch objective {
		case ObjectiveCost, ObjectiveAggressive:
			if a.CostPerCall != b.CostPerCall {
				return a.CostPerCall < b.CostPerCall
			}
			return a.SuccessRate > b.SuccessRate
		case ObjectiveQuality:
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
			return a.CostPerCall < b.CostPerCall
		case ObjectiveSpeed:
			if a.AvgLatencyMs != b.AvgLatencyMs {
				return a.AvgLatencyMs < b.AvgLatencyMs
			}
			return a.SuccessRate > b.SuccessRate
		default: // balanced
			return balancedScore(a) > balancedScore(b)
		}
	})
	return ranked
}

// balancedScore computes the weighted 0-1 score for the balanced
// objective. Each sub-score is normalized against a fixed reference
// ceiling so backends with no traffic yet are not unfairly penalized.
func balancedScore(d backend.Descriptor) float64 {
	costScore := 1 - clamp01(d.CostPerCall/refCostPerCall)
	qualityScore := clamp01(d.SuccessRate / 100)
	speedScore := 1 - clamp01(d.AvgLatencyMs/refLatencyMs)
	return balancedCostWeight*costScore + balancedQualityWeight*qualityScore + balancedSpeedWeight*speedScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
