// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"fmt"
	"time"
)

// Role is a principal's role within an enterprise.
// Roles are ordered so privilege checks can compare them directly.
type Role int

const (
	RoleViewer Role = iota + 1
	RoleUser
	RoleManager
	RoleAdmin
)

// String returns the wire representation of the role.
func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleUser:
		return "user"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the role as its string form.
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ParseRole converts a string role to its typed form.
func ParseRole(s string) (Role, error) {
	switch s {
	case "viewer":
		return RoleViewer, nil
	case "user":
		return RoleUser, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Scope is the level at which a tool operates.
type Scope string

const (
	ScopeEnterprise Scope = "enterprise"
	ScopeWorkspace  Scope = "workspace"
	ScopeUser       Scope = "user"
)

// ParseScope converts a string scope to its typed form.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeEnterprise, ScopeWorkspace, ScopeUser:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// ViolationType classifies an authority violation.
type ViolationType string

const (
	ViolationCrossTenantAccess     ViolationType = "cross_tenant_access"
	ViolationUnauthorizedWorkspace ViolationType = "unauthorized_workspace"
	ViolationPrivilegeEscalation   ViolationType = "privilege_escalation"
	ViolationUnauthorizedTool      ViolationType = "unauthorized_tool"
	ViolationRateLimitExceeded     ViolationType = "rate_limit_exceeded"
	ViolationResourceNotFound      ViolationType = "resource_not_found"
)

// Severity indicates how serious a violation is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation records a denied action with enough detail for audit.
type Violation struct {
	Type              ViolationType `json:"type"`
	RequestedResource string        `json:"requested_resource"`
	AuthorizedScope   string        `json:"authorized_scope"`
	Severity          Severity      `json:"severity"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Result is the outcome of an authority validation.
type Result struct {
	Authorized bool       `json:"authorized"`
	Reason     string     `json:"reason"`
	Violation  *Violation `json:"violation,omitempty"`
}

// Context is the authenticated authority of a principal,
// built from the identity directory and cached per session.
type Context struct {
	PrincipalID  string   `json:"principal_id"`
	EnterpriseID string   `json:"enterprise_id"`
	WorkspaceIDs []string `json:"workspace_ids"`
	Role         Role     `json:"role"`
	SessionID    string   `json:"session_id,omitempty"`
}

// HasWorkspace reports whether the principal is a member of the workspace.
func (c *Context) HasWorkspace(workspaceID string) bool {
	for _, id := range c.WorkspaceIDs {
		if id == workspaceID {
			return true
		}
	}
	return false
}

// Action describes what an agent wants to do on whose behalf.
// Empty target fields skip the corresponding check.
type Action struct {
	ToolName           string `json:"tool_name,omitempty"`
	TargetEnterpriseID string `json:"target_enterprise_id,omitempty"`
	TargetWorkspaceID  string `json:"target_workspace_id,omitempty"`
	Scope              Scope  `json:"scope,omitempty"`
}
