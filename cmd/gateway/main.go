// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the governance gateway service.
//
// The gateway governs AI agent tool usage for multi-tenant deployments:
// - Screens prompts for injection attempts
// - Validates principal authority against tenant boundaries
// - Detects session-level misuse patterns
// - Evaluates tenant boundary policies
// - Seals every decision into a tamper-evident audit record
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	JWT_SECRET - Secret for JWT token validation
//	PROOF_BUNDLE_SECRET - HMAC key for proof bundle sealing
//	REDIS_URL - Redis URL for distributed rate limiting (optional)
//	AUDIT_ARCHIVE_BUCKET - S3 bucket for audit record archiving (optional)
package main

import (
	"axonflow/governance/gateway"
)

func main() {
	gateway.Run()
}
