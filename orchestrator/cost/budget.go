// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultAlertCooldown suppresses repeat alerts for the same state.
const DefaultAlertCooldown = time.Hour

// Alerter delivers budget alerts. Delivery is fire-and-forget: a failed
// alert is logged and dropped, it never blocks or fails the check.
type Alerter interface {
	Notify(title, body string) error
}

// LogAlerter writes alerts to the process log. It is the default sink
// when no external alerter is configured.
type LogAlerter struct {
	logger *log.Logger
}

// NewLogAlerter creates a log-backed alerter.
func NewLogAlerter(logger *log.Logger) *LogAlerter {
	if logger == nil {
		logger = log.New(os.Stdout, "[BUDGET_ALERT] ", log.LstdFlags)
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Notify(title, body string) error {
	a.logger.Printf("%s: %s", title, body)
	return nil
}

// Estimator projects end-of-period spend from spend so far. now is the
// evaluation instant, start and end bound the period.
type Estimator func(spentUSD float64, now, start, end time.Time) float64

// LinearEstimator extrapolates the current daily run rate across the
// whole period. Day one counts as a full day so the projection is always
// at least the spend itself.
func LinearEstimator(spentUSD float64, now, start, end time.Time) float64 {
	elapsed := now.Sub(start)
	total := end.Sub(start)
	if elapsed <= 0 || total <= 0 {
		return spentUSD
	}
	elapsedDays := float64(elapsed)/float64(24*time.Hour) + 1
	totalDays := float64(total) / float64(24 * time.Hour)
	projected := spentUSD / elapsedDays * totalDays
	if projected < spentUSD {
		return spentUSD
	}
	return projected
}

// BudgetController derives budget status from the ledger and raises
// edge-triggered alerts on state escalation.
type BudgetController struct {
	ledger    *Ledger
	alerter   Alerter
	estimator Estimator
	cooldown  time.Duration
	logger    *log.Logger
	now       func() time.Time

	mu          sync.RWMutex
	config      BudgetConfig
	lastState   BudgetState
	lastAlertAt map[BudgetState]time.Time
}

// BudgetOption configures the controller.
type BudgetOption func(*BudgetController)

// WithAlerter sets the alert sink.
func WithAlerter(a Alerter) BudgetOption {
	return func(c *BudgetController) {
		c.alerter = a
	}
}

// WithEstimator sets the spend projection function.
func WithEstimator(e Estimator) BudgetOption {
	return func(c *BudgetController) {
		c.estimator = e
	}
}

// WithAlertCooldown sets the per-state alert cooldown.
func WithAlertCooldown(d time.Duration) BudgetOption {
	return func(c *BudgetController) {
		c.cooldown = d
	}
}

// WithBudgetLogger sets a custom logger.
func WithBudgetLogger(logger *log.Logger) BudgetOption {
	return func(c *BudgetController) {
		c.logger = logger
	}
}

// WithBudgetClock sets the time source. Used by tests.
func WithBudgetClock(now func() time.Time) BudgetOption {
	return func(c *BudgetController) {
		c.now = now
	}
}

// NewBudgetController creates a controller for the given budget config.
func NewBudgetController(ledger *Ledger, config BudgetConfig, opts ...BudgetOption) (*BudgetController, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &BudgetController{
		ledger:      ledger,
		estimator:   LinearEstimator,
		cooldown:    DefaultAlertCooldown,
		logger:      log.New(os.Stdout, "[BUDGET] ", log.LstdFlags),
		now:         time.Now,
		config:      config,
		lastState:   StateNormal,
		lastAlertAt: make(map[BudgetState]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.alerter == nil {
		c.alerter = NewLogAlerter(c.logger)
	}
	return c, nil
}

// Config returns the current budget configuration.
func (c *BudgetController) Config() BudgetConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// SetConfig replaces the budget configuration at runtime.
func (c *BudgetController) SetConfig(config BudgetConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.config = config
	c.mu.Unlock()
	c.logger.Printf("Budget updated: $%.2f/month (warn %.0f%%, critical %.0f%%)",
		config.MonthlyBudgetUSD, config.WarningPercent, config.CriticalPercent)
	return nil
}

// CurrentPeriod returns the calendar-month bounds containing now, in UTC.
func (c *BudgetController) CurrentPeriod() (start, end time.Time) {
	now := c.now().UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// Status derives the budget status for the current calendar month.
func (c *BudgetController) Status(ctx context.Context) (*BudgetStatus, error) {
	start, end := c.CurrentPeriod()
	spent, err := c.ledger.SpentForPeriod(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to derive spend from ledger: %w", err)
	}

	c.mu.RLock()
	config := c.config
	c.mu.RUnlock()

	now := c.now().UTC()
	status := &BudgetStatus{
		BudgetUSD:    config.MonthlyBudgetUSD,
		SpentUSD:     spent,
		ProjectedUSD: c.estimator(spent, now, start, end),
		PeriodStart:  start,
		PeriodEnd:    end,
		ComputedAt:   now,
	}
	if config.MonthlyBudgetUSD > 0 {
		status.PercentUsed = spent / config.MonthlyBudgetUSD * 100
	}
	status.State = c.classify(status.PercentUsed, config)
	return status, nil
}

func (c *BudgetController) classify(percentUsed float64, config BudgetConfig) BudgetState {
	switch {
	case percentUsed >= config.CriticalPercent:
		return StateCritical
	case percentUsed >= config.WarningPercent:
		return StateWarning
	default:
		return StateNormal
	}
}

// CheckOnce computes the current status and raises an alert when the
// state has escalated since the last check. Alerts are edge-triggered:
// a sustained warning state alerts once, then again only after the
// cooldown has elapsed.
func (c *BudgetController) CheckOnce(ctx context.Context) (*BudgetStatus, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	previous := c.lastState
	c.lastState = status.State
	escalated := stateRank(status.State) > stateRank(previous)
	lastAlert, alerted := c.lastAlertAt[status.State]
	now := c.now().UTC()
	shouldAlert := status.State != StateNormal &&
		(escalated || !alerted || now.Sub(lastAlert) >= c.cooldown)
	if shouldAlert {
		c.lastAlertAt[status.State] = now
	}
	c.mu.Unlock()

	if shouldAlert {
		c.alert(status)
	}
	return status, nil
}

func (c *BudgetController) alert(status *BudgetStatus) {
	title := fmt.Sprintf("Budget %s: %.1f%% of monthly budget used", status.State, status.PercentUsed)
	body := fmt.Sprintf("Spent $%.2f of $%.2f this period; projected end-of-period spend $%.2f.",
		status.SpentUSD, status.BudgetUSD, status.ProjectedUSD)
	if err := c.alerter.Notify(title, body); err != nil {
		c.logger.Printf("Warning: failed to deliver budget alert: %v", err)
	}
}

func stateRank(s BudgetState) int {
	switch s {
	case StateCritical:
		return 2
	case StateWarning:
		return 1
	default:
		return 0
	}
}
