// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package selection

import (
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/complexity"
)

// mockView implements BackendView with fixed descriptors.
type mockView struct {
	healthy []backend.Descriptor
	premium *backend.Descriptor
}

func (m *mockView) Healthy() []backend.Descriptor {
	return m.healthy
}

func (m *mockView) Premium() (backend.Descriptor, error) {
	if m.premium == nil {
		return backend.Descriptor{}, fmt.Errorf("no premium backend registered")
	}
	return *m.premium, nil
}

func quietStrategy(view BackendView) *Strategy {
	return NewStrategy(view, log.New(io.Discard, "", 0))
}

func mediumProfile() complexity.Profile {
	return complexity.Profile{Score: 50, Level: complexity.LevelMedium, Confidence: 0.8}
}

func TestSelectCostVersusQuality(t *testing.T) {
	// Backend A: cheap but flaky. Backend B: pricier but reliable.
	view := &mockView{
		healthy: []backend.Descriptor{
			{ID: "a", Kind: backend.KindLocalEconomy, CostPerCall: 0.002, SuccessRate: 78, AvgLatencyMs: 900, Active: true, Status: backend.StatusHealthy},
			{ID: "b", Kind: backend.KindLocalEconomy, CostPerCall: 0.02, SuccessRate: 99, AvgLatencyMs: 1100, Active: true, Status: backend.StatusHealthy},
		},
	}
	s := quietStrategy(view)

	dec, err := s.Select(mediumProfile(), ObjectiveCost, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "a" {
		t.Errorf("cost objective picked %s, want a", dec.BackendID)
	}

	dec, err = s.Select(mediumProfile(), ObjectiveQuality, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "b" {
		t.Errorf("quality objective picked %s, want b", dec.BackendID)
	}
}

func TestSelectSpeedObjective(t *testing.T) {
	view := &mockView{
		healthy: []backend.Descriptor{
			{ID: "slow", Kind: backend.KindLocalEconomy, CostPerCall: 0.001, SuccessRate: 95, AvgLatencyMs: 4000},
			{ID: "fast", Kind: backend.KindLocalEconomy, CostPerCall: 0.01, SuccessRate: 95, AvgLatencyMs: 300},
		},
	}
	dec, err := quietStrategy(view).Select(mediumProfile(), ObjectiveSpeed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "fast" {
		t.Errorf("speed objective picked %s, want fast", dec.BackendID)
	}
}

func TestSelectBalancedWeighting(t *testing.T) {
	// "good" dominates on all three axes, so any weighting must pick it.
	view := &mockView{
		healthy: []backend.Descriptor{
			{ID: "bad", Kind: backend.KindLocalEconomy, CostPerCall: 0.09, SuccessRate: 60, AvgLatencyMs: 9000},
			{ID: "good", Kind: backend.KindLocalEconomy, CostPerCall: 0.005, SuccessRate: 98, AvgLatencyMs: 400},
		},
	}
	dec, err := quietStrategy(view).Select(mediumProfile(), ObjectiveBalanced, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "good" {
		t.Errorf("balanced objective picked %s, want good", dec.BackendID)
	}
}

func TestSelectSimpleTierPrefersCheapKinds(t *testing.T) {
	premium := backend.Descriptor{ID: "gpt", Kind: backend.KindPremium, CostPerCall: 0.1, SuccessRate: 99}
	view := &mockView{
		healthy: []backend.Descriptor{
			premium,
			{ID: "tiny", Kind: backend.KindLocalZeroCost, CostPerCall: 0, SuccessRate: 90},
		},
		premium: &premium,
	}
	profile := complexity.Profile{Score: 10, Level: complexity.LevelSimple, Confidence: 0.9}

	dec, err := quietStrategy(view).Select(profile, ObjectiveQuality, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "tiny" {
		t.Errorf("simple tier picked %s, want tiny (premium excluded from pool)", dec.BackendID)
	}
}

func TestSelectMediumTierPremiumPromotion(t *testing.T) {
	premium := backend.Descriptor{ID: "gpt", Kind: backend.KindPremium, CostPerCall: 0.1, SuccessRate: 99}
	economy := backend.Descriptor{ID: "llama", Kind: backend.KindLocalEconomy, CostPerCall: 0.005, SuccessRate: 80}
	view := &mockView{healthy: []backend.Descriptor{premium, economy}, premium: &premium}
	s := quietStrategy(view)

	// Without the creative flag, premium stays out of the medium pool.
	profile := complexity.Profile{Score: 60, Level: complexity.LevelMedium, Confidence: 0.8}
	dec, err := s.Select(profile, ObjectiveQuality, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "llama" {
		t.Errorf("medium tier picked %s, want llama", dec.BackendID)
	}

	// Heavy creative work promotes premium into the pool.
	profile.RequiresCreativity = true
	dec, err = s.Select(profile, ObjectiveQuality, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "gpt" {
		t.Errorf("creative medium tier picked %s, want gpt", dec.BackendID)
	}

	// So does substantial code generation.
	profile.RequiresCreativity = false
	profile.ContainsCode = true
	dec, err = s.Select(profile, ObjectiveQuality, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "gpt" {
		t.Errorf("code-heavy medium tier picked %s, want gpt", dec.BackendID)
	}

	// Below the promotion score neither flag is enough.
	profile.Score = 50
	dec, err = s.Select(profile, ObjectiveQuality, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "llama" {
		t.Errorf("low-score code medium tier picked %s, want llama", dec.BackendID)
	}
}

func TestSelectCostCeiling(t *testing.T) {
	view := &mockView{
		healthy: []backend.Descriptor{
			{ID: "cheap", Kind: backend.KindLocalEconomy, CostPerCall: 0.001, SuccessRate: 70},
			{ID: "mid", Kind: backend.KindLocalEconomy, CostPerCall: 0.01, SuccessRate: 90},
			{ID: "dear", Kind: backend.KindCustom, CostPerCall: 0.05, SuccessRate: 99},
		},
	}
	s := quietStrategy(view)

	// Quality would pick "dear"; the ceiling forces the best within budget.
	dec, err := s.Select(mediumProfile(), ObjectiveQuality, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "mid" {
		t.Errorf("ceiling selection picked %s, want mid", dec.BackendID)
	}

	// An impossible ceiling keeps the unrestricted ranking rather than
	// failing the request.
	dec, err = s.Select(mediumProfile(), ObjectiveQuality, 0.0001)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "dear" {
		t.Errorf("impossible ceiling picked %s, want dear", dec.BackendID)
	}
}

func TestSelectPremiumFallbackWhenNoLocal(t *testing.T) {
	premium := backend.Descriptor{ID: "gpt", Kind: backend.KindPremium, CostPerCall: 0.1}
	view := &mockView{healthy: nil, premium: &premium}

	dec, err := quietStrategy(view).Select(mediumProfile(), ObjectiveBalanced, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "gpt" {
		t.Errorf("picked %s, want premium fallback", dec.BackendID)
	}
	if dec.Reason != "no local backend available" {
		t.Errorf("reason = %q", dec.Reason)
	}
}

func TestSelectNoBackendsAtAll(t *testing.T) {
	view := &mockView{}
	if _, err := quietStrategy(view).Select(mediumProfile(), ObjectiveBalanced, 0); err == nil {
		t.Error("expected error with no backends and no premium")
	}
}

func TestSelectAlternatesRanked(t *testing.T) {
	view := &mockView{
		healthy: []backend.Descriptor{
			{ID: "a", Kind: backend.KindLocalEconomy, CostPerCall: 0.003, SuccessRate: 90},
			{ID: "b", Kind: backend.KindLocalEconomy, CostPerCall: 0.001, SuccessRate: 90},
			{ID: "c", Kind: backend.KindLocalEconomy, CostPerCall: 0.002, SuccessRate: 90},
			{ID: "d", Kind: backend.KindLocalEconomy, CostPerCall: 0.004, SuccessRate: 90},
		},
	}
	dec, err := quietStrategy(view).Select(mediumProfile(), ObjectiveCost, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.BackendID != "b" {
		t.Errorf("picked %s, want b", dec.BackendID)
	}
	// Alternates are capped at two, in rank order
	if len(dec.Alternates) != 2 || dec.Alternates[0] != "c" || dec.Alternates[1] != "a" {
		t.Errorf("alternates = %v, want [c a]", dec.Alternates)
	}
}

func TestObjectiveStoreSwap(t *testing.T) {
	store := NewStore(ObjectiveBalanced)
	if got := store.Get(); got != ObjectiveBalanced {
		t.Errorf("initial objective = %s", got)
	}
	store.Set(ObjectiveAggressive)
	if got := store.Get(); got != ObjectiveAggressive {
		t.Errorf("after swap = %s", got)
	}
}

func TestIsValidObjective(t *testing.T) {
	valid := []string{"cost", "quality", "speed", "balanced", "aggressive"}
	for _, v := range valid {
		if !IsValidObjective(v) {
			t.Errorf("IsValidObjective(%q) = false", v)
		}
	}
	for _, v := range []string{"", "cheap", "BALANCED"} {
		if IsValidObjective(v) {
			t.Errorf("IsValidObjective(%q) = true", v)
		}
	}
}
