// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"axonflow/governance/shared/logger"
)

func TestPostgresDirectoryLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT enterprise_id, role FROM user_enterprises").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"enterprise_id", "role"}).
			AddRow("ent-1", "manager"))
	mock.ExpectQuery("SELECT workspace_id FROM user_workspaces").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"workspace_id"}).
			AddRow("ws-1").AddRow("ws-2"))

	dir := NewPostgresDirectory(db, logger.New("directory-test"))
	m, err := dir.LookupPrincipal(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("LookupPrincipal: %v", err)
	}
	if m == nil {
		t.Fatal("expected membership")
	}
	if m.EnterpriseID != "ent-1" || m.Role != RoleManager {
		t.Errorf("membership = %+v", m)
	}
	if len(m.WorkspaceIDs) != 2 {
		t.Errorf("workspaces = %v, want 2", m.WorkspaceIDs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresDirectoryUnknownPrincipal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT enterprise_id, role FROM user_enterprises").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"enterprise_id", "role"}))

	dir := NewPostgresDirectory(db, logger.New("directory-test"))
	m, err := dir.LookupPrincipal(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("LookupPrincipal: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil membership, got %+v", m)
	}
}

func TestPostgresDirectoryInvalidRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT enterprise_id, role FROM user_enterprises").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"enterprise_id", "role"}).
			AddRow("ent-1", "superuser"))

	dir := NewPostgresDirectory(db, logger.New("directory-test"))
	if _, err := dir.LookupPrincipal(context.Background(), "user-1"); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestPostgresDirectoryWorkspaceQueryFailureNarrowsAuthority(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT enterprise_id, role FROM user_enterprises").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"enterprise_id", "role"}).
			AddRow("ent-1", "user"))
	mock.ExpectQuery("SELECT workspace_id FROM user_workspaces").
		WithArgs("user-1").
		WillReturnError(errors.New("timeout"))

	dir := NewPostgresDirectory(db, logger.New("directory-test"))
	m, err := dir.LookupPrincipal(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("LookupPrincipal: %v", err)
	}
	if m == nil || len(m.WorkspaceIDs) != 0 {
		t.Errorf("membership = %+v, want enterprise membership with no workspaces", m)
	}
}
