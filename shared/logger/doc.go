// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for the NovaMind router
components.

# Overview

The logger outputs single-line JSON to stdout, making logs easily
consumable by CloudWatch, ELK stack, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR, AUDIT)
  - Component name (router, guardrail, etc.)
  - Instance ID and container name (for distributed tracing)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("router")

Log messages with request context:

	log.Info("req-456", "Processing request", map[string]interface{}{
	    "backend": "llama-local",
	})

Guardrail decisions use the audit level, which is emitted for every
validation outcome and never sampled:

	log.Audit("req-456", "guardrail validation", map[string]interface{}{
	    "corrected": true,
	})

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
