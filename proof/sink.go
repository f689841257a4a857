// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proof

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded against audit entries.
const (
	EventAccessGranted = "access_granted"
	EventAccessDenied  = "access_denied"
)

// Record is one append-only audit entry: the sealed bundle plus the
// request metadata needed to find it again.
type Record struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	PartnerID    string          `json:"partner_id"`
	EnterpriseID string          `json:"enterprise_id"`
	WorkspaceID  string          `json:"workspace_id,omitempty"`
	RequestData  json.RawMessage `json:"request_data"`
	PolicyResult json.RawMessage `json:"policy_result"`
	Bundle       *Bundle         `json:"proof_bundle"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Sink is the write-once audit store. Append failures must propagate:
// a decision that cannot be sealed into the audit trail has not been
// governed.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// PostgresSink writes audit records to the audit_records table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink backed by the given database.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Append inserts the record. Fail-closed: any error is returned to the
// caller.
func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	bundleJSON, err := json.Marshal(rec.Bundle)
	if err != nil {
		return fmt.Errorf("encode proof bundle: %w", err)
	}

	query := `
		INSERT INTO audit_records
			(id, event_type, partner_id, enterprise_id, workspace_id,
			 request_data, policy_result, proof_bundle, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.EventType, rec.PartnerID, rec.EnterpriseID, nullable(rec.WorkspaceID),
		[]byte(rec.RequestData), []byte(rec.PolicyResult), bundleJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("store audit record: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
