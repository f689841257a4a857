// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewRegistry()

	if len(r.Names()) != 8 {
		t.Errorf("default registry has %d tools, want 8", len(r.Names()))
	}

	def, ok := r.Lookup("delete_policy")
	if !ok {
		t.Fatal("delete_policy not registered")
	}
	if def.RequiredRole != RoleAdmin {
		t.Errorf("delete_policy required role = %s, want admin", def.RequiredRole)
	}
	if def.RateLimit == nil || def.RateLimit.MaxCalls != 5 || def.RateLimit.Window != time.Minute {
		t.Errorf("delete_policy rate limit = %+v, want 5/min", def.RateLimit)
	}

	if _, ok := r.Lookup("unknown_tool"); ok {
		t.Error("unknown tool resolved")
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `
tools:
  - name: export_findings
    description: Export governance findings
    required_role: manager
    scopes: [enterprise, workspace]
    rate_limit:
      max_calls: 2
      window_ms: 30000
  - name: query_policies
    description: Narrowed override
    required_role: user
    scopes: [enterprise]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	t.Run("new tool added", func(t *testing.T) {
		def, ok := r.Lookup("export_findings")
		if !ok {
			t.Fatal("export_findings not registered")
		}
		if def.RequiredRole != RoleManager {
			t.Errorf("required role = %s, want manager", def.RequiredRole)
		}
		if def.RateLimit == nil || def.RateLimit.Window != 30*time.Second {
			t.Errorf("rate limit = %+v, want 2 per 30s", def.RateLimit)
		}
	})

	t.Run("default overridden", func(t *testing.T) {
		def, _ := r.Lookup("query_policies")
		if def.RequiredRole != RoleUser {
			t.Errorf("required role = %s, want user after override", def.RequiredRole)
		}
		if def.AllowsScope(ScopeWorkspace) {
			t.Error("workspace scope still allowed after override")
		}
	})

	t.Run("defaults preserved", func(t *testing.T) {
		if _, ok := r.Lookup("delete_policy"); !ok {
			t.Error("default tool lost during override load")
		}
	})
}

func TestLoadRegistryValidation(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "tools.yaml")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("write: %v", err)
		}
		return path
	}

	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown role",
			content: `
tools:
  - name: t1
    required_role: superuser
    scopes: [enterprise]
`,
		},
		{
			name: "unknown scope",
			content: `
tools:
  - name: t1
    required_role: user
    scopes: [galaxy]
`,
		},
		{
			name: "missing scopes",
			content: `
tools:
  - name: t1
    required_role: user
`,
		},
		{
			name: "non-positive rate limit",
			content: `
tools:
  - name: t1
    required_role: user
    scopes: [enterprise]
    rate_limit:
      max_calls: 0
      window_ms: 1000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRegistry(write(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
