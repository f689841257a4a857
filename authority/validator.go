// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"axonflow/governance/shared/logger"
)

// ContextTTL is how long a built authority context stays cached.
const ContextTTL = 5 * time.Minute

// Validator enforces agent-level access control: cross-tenant isolation,
// workspace membership, tool authorization by role and scope, and
// per-(principal, tool) rate limits.
type Validator struct {
	directory Directory
	registry  *Registry
	limiter   Limiter
	log       *logger.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	authCtx *Context
	expiry  time.Time
}

// ValidatorOption is a functional option for configuring a Validator.
type ValidatorOption func(*Validator)

// WithRegistry sets a custom tool registry.
func WithRegistry(r *Registry) ValidatorOption {
	return func(v *Validator) {
		v.registry = r
	}
}

// WithLimiter sets the rate limiter backend.
func WithLimiter(l Limiter) ValidatorOption {
	return func(v *Validator) {
		v.limiter = l
	}
}

// WithClock sets the validator's time source. Used in tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a validator with the given identity directory.
func NewValidator(directory Directory, log *logger.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		directory: directory,
		registry:  NewRegistry(),
		limiter:   NewMemoryLimiter(),
		log:       log,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// BuildContext resolves a principal's authority, caching the result per
// (principal, session) for ContextTTL. An unknown principal returns
// (nil, nil); callers must treat a nil context as a denial.
func (v *Validator) BuildContext(ctx context.Context, principalID, sessionID string) (*Context, error) {
	session := sessionID
	if session == "" {
		session = "default"
	}
	key := principalID + ":" + session

	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()
	if ok && entry.expiry.After(v.now()) {
		return entry.authCtx, nil
	}

	m, err := v.directory.LookupPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to build authority context: %w", err)
	}
	if m == nil {
		v.log.Warn("", "", "No enterprise membership for principal", map[string]interface{}{
			"principal_id": principalID,
		})
		return nil, nil
	}

	authCtx := &Context{
		PrincipalID:  principalID,
		EnterpriseID: m.EnterpriseID,
		WorkspaceIDs: m.WorkspaceIDs,
		Role:         m.Role,
		SessionID:    sessionID,
	}

	v.mu.Lock()
	v.cache[key] = cacheEntry{authCtx: authCtx, expiry: v.now().Add(ContextTTL)}
	v.mu.Unlock()

	return authCtx, nil
}

// ValidateEnterpriseAccess checks that the requested enterprise is the
// principal's authenticated enterprise. Cross-tenant access is always
// a critical violation regardless of role.
func (v *Validator) ValidateEnterpriseAccess(authCtx *Context, requestedEnterpriseID string) Result {
	if authCtx.EnterpriseID != requestedEnterpriseID {
		return Result{
			Authorized: false,
			Reason:     "Cross-tenant access attempt detected",
			Violation: v.violation(
				ViolationCrossTenantAccess,
				"enterprise:"+requestedEnterpriseID,
				"enterprise:"+authCtx.EnterpriseID,
				SeverityCritical,
			),
		}
	}
	return Result{Authorized: true, Reason: "Enterprise access validated"}
}

// ValidateWorkspaceAccess checks that the principal is a member of the
// requested workspace.
func (v *Validator) ValidateWorkspaceAccess(authCtx *Context, requestedWorkspaceID string) Result {
	if !authCtx.HasWorkspace(requestedWorkspaceID) {
		return Result{
			Authorized: false,
			Reason:     "Unauthorized workspace access attempt",
			Violation: v.violation(
				ViolationUnauthorizedWorkspace,
				"workspace:"+requestedWorkspaceID,
				"workspaces:["+strings.Join(authCtx.WorkspaceIDs, ",")+"]",
				SeverityCritical,
			),
		}
	}
	return Result{Authorized: true, Reason: "Workspace access validated"}
}

// ValidateToolUsage checks that the principal may call the tool at the
// given scope: the tool must be registered, the principal's role must
// meet the tool's required role, the scope must be allowed, and the
// per-(principal, tool) rate limit must not be exhausted.
func (v *Validator) ValidateToolUsage(ctx context.Context, authCtx *Context, toolName string, scope Scope) Result {
	def, ok := v.registry.Lookup(toolName)
	if !ok {
		return Result{
			Authorized: false,
			Reason:     fmt.Sprintf("Unknown tool: %s", toolName),
			Violation: v.violation(
				ViolationUnauthorizedTool,
				"tool:"+toolName,
				"registered_tools",
				SeverityCritical,
			),
		}
	}

	if authCtx.Role < def.RequiredRole {
		return Result{
			Authorized: false,
			Reason:     fmt.Sprintf("Insufficient privileges for tool: %s", toolName),
			Violation: v.violation(
				ViolationPrivilegeEscalation,
				"tool:"+toolName,
				"role:"+authCtx.Role.String(),
				SeverityCritical,
			),
		}
	}

	if !def.AllowsScope(scope) {
		scopes := make([]string, 0, len(def.AllowedScopes))
		for _, s := range def.AllowedScopes {
			scopes = append(scopes, string(s))
		}
		return Result{
			Authorized: false,
			Reason:     fmt.Sprintf("Tool %s not allowed in scope: %s", toolName, scope),
			Violation: v.violation(
				ViolationUnauthorizedTool,
				fmt.Sprintf("tool:%s:scope:%s", toolName, scope),
				"scopes:["+strings.Join(scopes, ",")+"]",
				SeverityWarning,
			),
		}
	}

	if def.RateLimit != nil {
		key := authCtx.PrincipalID + ":" + toolName
		if !v.limiter.Allow(ctx, key, *def.RateLimit) {
			return Result{
				Authorized: false,
				Reason: fmt.Sprintf("Rate limit exceeded: %d calls per %s",
					def.RateLimit.MaxCalls, def.RateLimit.Window),
				Violation: v.violation(
					ViolationRateLimitExceeded,
					key,
					fmt.Sprintf("limit:%d/%s", def.RateLimit.MaxCalls, def.RateLimit.Window),
					SeverityWarning,
				),
			}
		}
	}

	return Result{Authorized: true, Reason: "Tool usage authorized"}
}

// ValidateAction runs every applicable check for an agent action and
// fails fast on the first violation. Empty action fields skip their
// check; a missing scope defaults to enterprise.
func (v *Validator) ValidateAction(ctx context.Context, authCtx *Context, action Action) Result {
	if action.TargetEnterpriseID != "" {
		if r := v.ValidateEnterpriseAccess(authCtx, action.TargetEnterpriseID); !r.Authorized {
			return r
		}
	}

	if action.TargetWorkspaceID != "" {
		if r := v.ValidateWorkspaceAccess(authCtx, action.TargetWorkspaceID); !r.Authorized {
			return r
		}
	}

	if action.ToolName != "" {
		scope := action.Scope
		if scope == "" {
			scope = ScopeEnterprise
		}
		if r := v.ValidateToolUsage(ctx, authCtx, action.ToolName, scope); !r.Authorized {
			return r
		}
	}

	return Result{Authorized: true, Reason: "All agent action validations passed"}
}

// ClearCache drops all cached authority contexts and limiter state.
func (v *Validator) ClearCache() {
	v.mu.Lock()
	v.cache = make(map[string]cacheEntry)
	v.mu.Unlock()
	v.limiter.Reset()
}

func (v *Validator) violation(t ViolationType, requested, authorized string, severity Severity) *Violation {
	return &Violation{
		Type:              t,
		RequestedResource: requested,
		AuthorizedScope:   authorized,
		Severity:          severity,
		Timestamp:         v.now().UTC(),
	}
}
