// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proof

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// RiskTier ranks a registered tool's risk. Tiers are ordered so
// aggregation can take the highest.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the wire representation of the tier.
func (r RiskTier) String() string {
	switch r {
	case RiskCritical:
		return "CRITICAL"
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// MarshalJSON emits the tier as its string form.
func (r RiskTier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ParseRiskTier converts a stored tier string; unknown values map to LOW.
func ParseRiskTier(s string) RiskTier {
	switch s {
	case "CRITICAL":
		return RiskCritical
	case "HIGH":
		return RiskHigh
	case "MEDIUM":
		return RiskMedium
	default:
		return RiskLow
	}
}

// ToolInfo is a tool registry entry.
type ToolInfo struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	DeploymentStatus string   `json:"deployment_status"`
	RiskTier         RiskTier `json:"risk_tier"`
}

// ToolViolation explains why a declared tool failed validation.
type ToolViolation struct {
	ToolID   string `json:"tool_id"`
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// ToolValidation is the outcome of checking declared tools against the
// registry.
type ToolValidation struct {
	Approved       bool            `json:"approved"`
	Violations     []ToolViolation `json:"violations"`
	AggregatedRisk RiskTier        `json:"aggregated_risk"`
}

// ToolRegistry looks up registered tools by id.
type ToolRegistry interface {
	LookupTools(ctx context.Context, toolIDs []string) ([]ToolInfo, error)
}

// PostgresToolRegistry reads the ai_tool_registry table.
type PostgresToolRegistry struct {
	db *sql.DB
}

// NewPostgresToolRegistry creates a registry backed by the given database.
func NewPostgresToolRegistry(db *sql.DB) *PostgresToolRegistry {
	return &PostgresToolRegistry{db: db}
}

// LookupTools returns registry entries for the given ids. Unknown ids
// are simply absent from the result.
func (r *PostgresToolRegistry) LookupTools(ctx context.Context, toolIDs []string) ([]ToolInfo, error) {
	query := `
		SELECT id, name, deployment_status, risk_tier
		FROM ai_tool_registry
		WHERE id = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(toolIDs))
	if err != nil {
		return nil, fmt.Errorf("lookup tools: %w", err)
	}
	defer rows.Close()

	var tools []ToolInfo
	for rows.Next() {
		var (
			t    ToolInfo
			tier string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.DeploymentStatus, &tier); err != nil {
			return nil, fmt.Errorf("scan tool row: %w", err)
		}
		t.RiskTier = ParseRiskTier(tier)
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool rows: %w", err)
	}
	return tools, nil
}

// ValidateDeclaredTools checks a declared tool list against the registry.
// Unknown and banned tools are violations; the aggregated risk is the
// highest tier among the resolved tools. An empty declaration is approved
// at LOW risk.
func ValidateDeclaredTools(ctx context.Context, registry ToolRegistry, toolIDs []string) (ToolValidation, error) {
	if len(toolIDs) == 0 {
		return ToolValidation{Approved: true, AggregatedRisk: RiskLow}, nil
	}

	tools, err := registry.LookupTools(ctx, toolIDs)
	if err != nil {
		return ToolValidation{}, fmt.Errorf("validate declared tools: %w", err)
	}

	byID := make(map[string]ToolInfo, len(tools))
	for _, t := range tools {
		byID[t.ID] = t
	}

	var (
		violations []ToolViolation
		risk       = RiskLow
	)
	for _, id := range toolIDs {
		tool, ok := byID[id]
		if !ok {
			violations = append(violations, ToolViolation{
				ToolID:   id,
				ToolName: "Unknown Tool",
				Reason:   "Tool not found in registry",
			})
			continue
		}
		if tool.DeploymentStatus == "banned" {
			violations = append(violations, ToolViolation{
				ToolID:   tool.ID,
				ToolName: tool.Name,
				Reason:   "Tool is banned for use in this enterprise",
			})
		}
		if tool.RiskTier > risk {
			risk = tool.RiskTier
		}
	}

	return ToolValidation{
		Approved:       len(violations) == 0,
		Violations:     violations,
		AggregatedRisk: risk,
	}, nil
}
