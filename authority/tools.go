// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit caps how often a principal may call a tool.
type RateLimit struct {
	MaxCalls int
	Window   time.Duration
}

// ToolDefinition describes a governed tool and who may call it.
type ToolDefinition struct {
	Name          string
	Description   string
	RequiredRole  Role
	AllowedScopes []Scope
	RateLimit     *RateLimit
}

// AllowsScope reports whether the tool may be used at the given scope.
func (t *ToolDefinition) AllowsScope(scope Scope) bool {
	for _, s := range t.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Registry holds the known tool definitions.
type Registry struct {
	tools map[string]*ToolDefinition
}

// NewRegistry creates a registry with the default governed tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*ToolDefinition)}
	for _, def := range defaultTools() {
		r.tools[def.Name] = def
	}
	return r
}

// Lookup returns the definition for a tool name.
func (r *Registry) Lookup(name string) (*ToolDefinition, bool) {
	def, ok := r.tools[name]
	return def, ok
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def *ToolDefinition) {
	r.tools[def.Name] = def
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// defaultTools returns the built-in tool definitions.
func defaultTools() []*ToolDefinition {
	return []*ToolDefinition{
		{
			Name:          "query_policies",
			Description:   "Query boundary policies for the enterprise",
			RequiredRole:  RoleViewer,
			AllowedScopes: []Scope{ScopeEnterprise, ScopeWorkspace},
		},
		{
			Name:          "create_policy",
			Description:   "Create a new boundary policy",
			RequiredRole:  RoleManager,
			AllowedScopes: []Scope{ScopeEnterprise},
			RateLimit:     &RateLimit{MaxCalls: 10, Window: time.Minute},
		},
		{
			Name:          "update_policy",
			Description:   "Update an existing boundary policy",
			RequiredRole:  RoleManager,
			AllowedScopes: []Scope{ScopeEnterprise},
			RateLimit:     &RateLimit{MaxCalls: 20, Window: time.Minute},
		},
		{
			Name:          "delete_policy",
			Description:   "Delete a boundary policy",
			RequiredRole:  RoleAdmin,
			AllowedScopes: []Scope{ScopeEnterprise},
			RateLimit:     &RateLimit{MaxCalls: 5, Window: time.Minute},
		},
		{
			Name:          "query_audit_logs",
			Description:   "Query audit logs for compliance",
			RequiredRole:  RoleManager,
			AllowedScopes: []Scope{ScopeEnterprise, ScopeWorkspace},
		},
		{
			Name:          "evaluate_request",
			Description:   "Evaluate an AI request against policies",
			RequiredRole:  RoleUser,
			AllowedScopes: []Scope{ScopeEnterprise, ScopeWorkspace, ScopeUser},
		},
		{
			Name:          "query_enterprise_data",
			Description:   "Query enterprise configuration data",
			RequiredRole:  RoleViewer,
			AllowedScopes: []Scope{ScopeEnterprise},
		},
		{
			Name:          "modify_enterprise_settings",
			Description:   "Modify enterprise-level settings",
			RequiredRole:  RoleAdmin,
			AllowedScopes: []Scope{ScopeEnterprise},
			RateLimit:     &RateLimit{MaxCalls: 5, Window: time.Minute},
		},
	}
}

// toolFile is the YAML document shape for tool registry overrides.
type toolFile struct {
	Tools []toolEntry `yaml:"tools"`
}

type toolEntry struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	RequiredRole string   `yaml:"required_role"`
	Scopes       []string `yaml:"scopes"`
	RateLimit    *struct {
		MaxCalls int `yaml:"max_calls"`
		WindowMs int `yaml:"window_ms"`
	} `yaml:"rate_limit"`
}

// LoadRegistry reads tool definitions from a YAML file and layers them
// over the defaults. Existing tools with the same name are replaced.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool registry: %w", err)
	}

	var file toolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tool registry: %w", err)
	}

	r := NewRegistry()
	for i, entry := range file.Tools {
		def, err := entry.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("tool %d (%s): %w", i, entry.Name, err)
		}
		r.Register(def)
	}
	return r, nil
}

func (e toolEntry) toDefinition() (*ToolDefinition, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}

	role, err := ParseRole(e.RequiredRole)
	if err != nil {
		return nil, err
	}

	if len(e.Scopes) == 0 {
		return nil, fmt.Errorf("tool must allow at least one scope")
	}
	scopes := make([]Scope, 0, len(e.Scopes))
	for _, s := range e.Scopes {
		scope, err := ParseScope(s)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}

	def := &ToolDefinition{
		Name:          e.Name,
		Description:   e.Description,
		RequiredRole:  role,
		AllowedScopes: scopes,
	}
	if e.RateLimit != nil {
		if e.RateLimit.MaxCalls <= 0 || e.RateLimit.WindowMs <= 0 {
			return nil, fmt.Errorf("rate limit values must be positive")
		}
		def.RateLimit = &RateLimit{
			MaxCalls: e.RateLimit.MaxCalls,
			Window:   time.Duration(e.RateLimit.WindowMs) * time.Millisecond,
		}
	}
	return def, nil
}
