// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"axonflow/governance/shared/logger"
)

// Store loads the active policies governing a tenant.
type Store interface {
	LoadActivePolicies(ctx context.Context, tenantID string) ([]Policy, error)
}

// HistoryStore counts recent requests for rate limit rules.
type HistoryStore interface {
	CountRequests(ctx context.Context, tenantID, partnerID string, since time.Time) (int, error)
}

// PostgresStore reads policies from the policies table. Boundary rules
// are stored as a JSONB array of {type, config, severity} objects.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore creates a policy store backed by the given database.
func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// LoadActivePolicies returns all active policies for a tenant. Policies
// whose rules fail to parse are skipped with a warning rather than
// failing the whole load.
func (s *PostgresStore) LoadActivePolicies(ctx context.Context, tenantID string) ([]Policy, error) {
	query := `
		SELECT id, name, boundary_rules
		FROM policies
		WHERE enterprise_id = $1 AND status = 'active'
		ORDER BY created_at ASC`

	rows, err := s.queryWithRetry(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load policies for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var (
			p        Policy
			rulesRaw []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &rulesRaw); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		p.TenantID = tenantID

		if err := json.Unmarshal(rulesRaw, &p.Rules); err != nil {
			s.log.Warn(tenantID, "", "Skipping policy with malformed boundary rules", map[string]interface{}{
				"policy_id": p.ID,
				"error":     err.Error(),
			})
			continue
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy rows: %w", err)
	}

	return policies, nil
}

// queryWithRetry retries transient connection failures with backoff.
func (s *PostgresStore) queryWithRetry(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		select {
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "driver: bad connection")
}

// PostgresHistory counts governed requests from the request ledger.
type PostgresHistory struct {
	db *sql.DB
}

// NewPostgresHistory creates a request history backed by the given database.
func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// CountRequests returns how many requests a partner made for a tenant
// since the given time.
func (h *PostgresHistory) CountRequests(ctx context.Context, tenantID, partnerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM governed_requests
		WHERE enterprise_id = $1 AND partner_id = $2 AND created_at >= $3`

	var count int
	if err := h.db.QueryRowContext(ctx, query, tenantID, partnerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count requests for tenant %s: %w", tenantID, err)
	}
	return count, nil
}
