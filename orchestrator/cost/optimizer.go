// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"log"
	"os"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/selection"
)

// Optimizer adjusts the active routing objective from budget pressure.
// It only moves objectives it set itself: a manual override through the
// admin API stays in force until the next adjustment cycle observes a
// different budget state.
type Optimizer struct {
	budget *BudgetController
	store  *selection.Store
	logger *log.Logger
}

// NewOptimizer creates an optimizer writing to the given objective store.
func NewOptimizer(budget *BudgetController, store *selection.Store, logger *log.Logger) *Optimizer {
	if logger == nil {
		logger = log.New(os.Stdout, "[OPTIMIZER] ", log.LstdFlags)
	}
	return &Optimizer{budget: budget, store: store, logger: logger}
}

// AdjustOnce evaluates budget state and republishes the objective:
// critical pressure forces aggressive, warning forces cost, ample
// headroom (under half the budget) allows quality, otherwise balanced.
func (o *Optimizer) AdjustOnce(ctx context.Context) (selection.Objective, error) {
	status, err := o.budget.Status(ctx)
	if err != nil {
		return o.store.Get(), err
	}

	target := objectiveFor(status)
	current := o.store.Get()
	if target != current {
		o.store.Set(target)
		o.logger.Printf("Objective adjusted %s -> %s (budget %.1f%% used, state %s)",
			current, target, status.PercentUsed, status.State)
	}
	return target, nil
}

func objectiveFor(status *BudgetStatus) selection.Objective {
	switch {
	case status.State == StateCritical:
		return selection.ObjectiveAggressive
	case status.State == StateWarning:
		return selection.ObjectiveCost
	case status.PercentUsed < 50:
		return selection.ObjectiveQuality
	default:
		return selection.ObjectiveBalanced
	}
}
