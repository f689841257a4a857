// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"axonflow/governance/shared/logger"
)

// Membership is a principal's enterprise and workspace memberships
// as recorded in the identity store.
type Membership struct {
	EnterpriseID string
	Role         Role
	WorkspaceIDs []string
}

// Directory resolves principals to their memberships.
// A nil membership with a nil error means the principal is unknown.
type Directory interface {
	LookupPrincipal(ctx context.Context, principalID string) (*Membership, error)
}

// PostgresDirectory resolves memberships from the user_enterprises and
// user_workspaces tables.
type PostgresDirectory struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresDirectory creates a directory backed by Postgres.
func NewPostgresDirectory(db *sql.DB, log *logger.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: db, log: log}
}

// LookupPrincipal implements Directory.
func (d *PostgresDirectory) LookupPrincipal(ctx context.Context, principalID string) (*Membership, error) {
	var enterpriseID, roleName string
	err := d.db.QueryRowContext(ctx,
		`SELECT enterprise_id, role FROM user_enterprises WHERE user_id = $1`,
		principalID,
	).Scan(&enterpriseID, &roleName)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown principal, not an infrastructure failure
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query enterprise membership: %w", err)
	}

	role, err := ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("principal %s has invalid role: %w", principalID, err)
	}

	m := &Membership{
		EnterpriseID: enterpriseID,
		Role:         role,
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT workspace_id FROM user_workspaces WHERE user_id = $1`,
		principalID,
	)
	if err != nil {
		// Workspace membership is supplementary; a lookup failure narrows
		// authority instead of failing the request.
		d.log.Warn("", "", "Failed to query workspace memberships", map[string]interface{}{
			"principal_id": principalID,
			"error":        err.Error(),
		})
		return m, nil
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var workspaceID string
		if err := rows.Scan(&workspaceID); err != nil {
			return nil, fmt.Errorf("failed to scan workspace id: %w", err)
		}
		m.WorkspaceIDs = append(m.WorkspaceIDs, workspaceID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workspace memberships: %w", err)
	}

	return m, nil
}
