// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging with multi-tenant support
for governance pipeline components.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, pipeline, policy, ...)
  - Instance ID and container name (for distributed tracing)
  - Tenant ID (for multi-tenant isolation)
  - Request ID (for request correlation)
  - Custom fields

Create a logger for your component:

	log := logger.New("pipeline")

Log messages with tenant and request context:

	log.Info("tenant-123", "req-456", "Request governed", map[string]interface{}{
	    "decision": "allow",
	})

Log entries are output as single-line JSON on stdout. Logger instances are
safe for concurrent use from multiple goroutines.
*/
package logger
