// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the inference backend abstraction and the health
// registry that tracks every registered backend. All generation traffic in
// the router flows through the Invoker interface defined here, so each
// downstream component reasons about a single request/response shape and a
// single normalized error type.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the cost/quality tier of a backend.
type Kind string

const (
	// KindPremium is the metered, high-fidelity backend. There is exactly
	// one premium backend per deployment and it is the hard fallback of
	// last resort.
	KindPremium Kind = "premium"

	// KindLocalEconomy is a cheap self-hosted backend with a small
	// per-call cost (electricity, amortized hardware).
	KindLocalEconomy Kind = "local-economy"

	// KindLocalZeroCost is a self-hosted backend treated as free.
	KindLocalZeroCost Kind = "local-zero-cost"

	// KindCustom is a third-party backend with caller-supplied metadata.
	KindCustom Kind = "custom"
)

// rank orders kinds from cheapest to most capable. Used by the guardrail
// floor rule and by selection tier filtering.
func (k Kind) rank() int {
	switch k {
	case KindLocalZeroCost:
		return 0
	case KindLocalEconomy:
		return 1
	case KindCustom:
		return 2
	case KindPremium:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether k is at or above the given minimum kind.
func (k Kind) AtLeast(min Kind) bool {
	return k.rank() >= min.rank()
}

// IsValidKind checks if a string is a valid backend kind.
func IsValidKind(s string) bool {
	switch Kind(s) {
	case KindPremium, KindLocalEconomy, KindLocalZeroCost, KindCustom:
		return true
	}
	return false
}

// Status represents the health state of a backend. Healthy and degraded
// backends are both routable; degraded flags a rolling success rate below
// DegradedSuccessFloor so operators can react before the backend drops
// offline entirely.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Descriptor describes a registered backend. Rolling statistics are
// maintained exclusively by the Registry; everything else is static
// registration metadata.
type Descriptor struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Kind        Kind    `json:"kind"`
	Endpoint    string  `json:"endpoint"`
	Credential  string  `json:"-"`
	CostPerCall float64 `json:"cost_per_call_usd"`

	Status       Status    `json:"status"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	Active       bool      `json:"active"`
	LastProbedAt time.Time `json:"last_probed_at,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Request is the normalized inference request passed to every backend.
type Request struct {
	Prompt    string `json:"prompt"`
	TaskType  string `json:"task_type,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Response is the normalized inference response.
type Response struct {
	Content   string        `json:"content"`
	Latency   time.Duration `json:"latency"`
}

// Invoker is the interface consumed for all generation calls.
// Implementations must be safe for concurrent use and must honor the
// context deadline: the dispatcher relies on per-attempt timeouts being
// shorter than the caller's budget so failover stays possible.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ErrorKind classifies backend failures.
type ErrorKind string

const (
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindUnavailable       ErrorKind = "unavailable"
	ErrKindMalformedResponse ErrorKind = "malformed_response"
	ErrKindRateLimited       ErrorKind = "rate_limited"
)

// Error is the normalized error returned by backend invocations.
type Error struct {
	// BackendID is the backend that produced the error.
	BackendID string `json:"backend_id"`

	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %s", e.BackendID, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a normalized backend error.
func NewError(backendID string, kind ErrorKind, message string) *Error {
	return &Error{BackendID: backendID, Kind: kind, Message: message}
}

// AsError normalizes an arbitrary invocation error into *Error. Context
// deadline errors map to the timeout kind; anything unrecognized is
// treated as unavailable.
func AsError(backendID string, err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{BackendID: backendID, Kind: ErrKindTimeout, Message: err.Error(), Cause: err}
	}
	return &Error{BackendID: backendID, Kind: ErrKindUnavailable, Message: err.Error(), Cause: err}
}
