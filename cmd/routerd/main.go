// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the NovaMind router service.
//
// The router dispatches generation requests across a fleet of LLM
// backends, balancing response quality against operating cost:
// - Classifies request complexity and picks a matching backend tier
// - Enforces guardrail policy on every selection
// - Fails over through alternates to the premium backend
// - Books every call in an append-only cost ledger
// - Adjusts the routing objective from monthly budget pressure
//
// Usage:
//
//	./routerd
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8081)
//	CONFIG_PATH - YAML configuration file (optional)
//	DATABASE_URL - PostgreSQL connection string (optional)
//	REDIS_ADDR - Redis address for the response cache (optional)
package main

import (
	"github.com/lvruyi0102/nova-mind-router/orchestrator"
)

func main() {
	orchestrator.Run()
}
