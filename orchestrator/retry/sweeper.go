// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// DefaultSweepInterval is how often the periodic sweeper wakes up.
const DefaultSweepInterval = 5 * time.Minute

// Executor performs one retry attempt for a record. A nil error marks
// the record succeeded; a non-nil error reschedules or exhausts it.
type Executor func(ctx context.Context, record *Record) error

// Alerter notifies an operator when a record exhausts its attempts.
type Alerter interface {
	Notify(title, body string) error
}

// Sweeper drains due retry records. Each sweep claims a bounded batch,
// runs the executor per record, and either marks it succeeded,
// reschedules it with the next backoff step, or exhausts it.
type Sweeper struct {
	repo     Repository
	executor Executor
	alerter  Alerter
	logger   *log.Logger
	now      func() time.Time
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets a custom logger.
func WithSweeperLogger(logger *log.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweeperAlerter sets the exhaustion alert sink.
func WithSweeperAlerter(a Alerter) SweeperOption {
	return func(s *Sweeper) {
		s.alerter = a
	}
}

// WithSweeperClock sets the time source. Used by tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a sweeper executing retries through executor.
func NewSweeper(repo Repository, executor Executor, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:     repo,
		executor: executor,
		logger:   log.New(os.Stdout, "[RETRY_SWEEPER] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce processes up to SweepBatchSize due records and returns how
// many were attempted. Records claimed by a concurrent sweeper are
// skipped silently.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.Due(ctx, now, SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due retry records: %w", err)
	}

	attempted := 0
	for _, record := range due {
		if ctx.Err() != nil {
			return attempted, ctx.Err()
		}
		if err := s.attempt(ctx, record); err == ErrStaleStatus {
			continue
		} else if err != nil {
			s.logger.Printf("Warning: failed to process record %s: %v", record.ID, err)
			continue
		}
		attempted++
	}
	return attempted, nil
}

// attempt claims the record, runs one retry, and persists the outcome.
// The claim is a conditional write that bumps the attempt counter and
// provisionally reschedules the record before the executor runs, so a
// concurrent sweeper racing on the same record loses the claim instead
// of invoking the backend a second time.
func (s *Sweeper) attempt(ctx context.Context, record *Record) error {
	now := s.now().UTC()
	prevAttempt := record.Attempt
	attemptNo := prevAttempt + 1

	record.Attempt = attemptNo
	record.NextEligibleAt = now.Add(Backoff(attemptNo))
	record.UpdatedAt = now
	if err := s.repo.Update(ctx, record, StatusPending, prevAttempt); err != nil {
		return err
	}

	execErr := s.executor(ctx, record)
	now = s.now().UTC()

	history := &HistoryEntry{
		RecordID:   record.ID,
		Attempt:    attemptNo,
		Succeeded:  execErr == nil,
		OccurredAt: now,
	}
	if execErr != nil {
		history.Error = execErr.Error()
	}

	record.UpdatedAt = now
	switch {
	case execErr == nil:
		record.Status = StatusSucceeded
		record.LastError = ""
	case attemptNo >= record.MaxAttempts:
		record.Status = StatusFailed
		record.LastError = execErr.Error()
	default:
		// The claim already scheduled the next backoff step; only the
		// error message needs recording.
		record.LastError = execErr.Error()
	}

	finalErr := s.repo.Update(ctx, record, StatusPending, attemptNo)
	if finalErr != nil && finalErr != ErrStaleStatus {
		s.logger.Printf("Warning: failed to persist outcome for record %s: %v", record.ID, finalErr)
	}
	if err := s.repo.AppendHistory(ctx, history); err != nil {
		s.logger.Printf("Warning: failed to record attempt history for %s: %v", record.ID, err)
	}

	// A stale final write means the record was resolved out from under
	// us while the executor ran; the manual resolution stands.
	if finalErr == nil && record.Status == StatusFailed {
		s.exhausted(record)
	}
	return nil
}

func (s *Sweeper) exhausted(record *Record) {
	s.logger.Printf("Record %s exhausted after %d attempts: %s",
		record.ID, record.Attempt, record.LastError)
	if s.alerter == nil {
		return
	}
	title := fmt.Sprintf("Retry exhausted for %s request %s", record.TaskKind, record.ID)
	body := fmt.Sprintf("All %d attempts failed; last error: %s. Manual intervention required.",
		record.MaxAttempts, record.LastError)
	if err := s.alerter.Notify(title, body); err != nil {
		s.logger.Printf("Warning: failed to deliver exhaustion alert: %v", err)
	}
}

// StartPeriodicSweep runs SweepOnce on a fixed interval until the
// context is cancelled.
func (s *Sweeper) StartPeriodicSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Printf("Starting periodic retry sweep every %v", interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Println("Stopping periodic retry sweep")
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
					s.logger.Printf("Warning: retry sweep failed: %v", err)
				}
			}
		}
	}()
}
