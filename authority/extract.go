// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

// TenantIDs are tenant identifiers found inside a request payload.
type TenantIDs struct {
	EnterpriseIDs []string `json:"enterprise_ids"`
	WorkspaceIDs  []string `json:"workspace_ids"`
}

var (
	enterpriseIDFields = []string{"enterprise_id", "enterpriseId", "tenant_id", "tenantId", "org_id", "orgId"}
	workspaceIDFields  = []string{"workspace_id", "workspaceId", "project_id", "projectId"}
)

// ExtractTenantIDs recursively scans a decoded JSON payload for tenant
// identifier fields. Agents sometimes smuggle foreign tenant ids deep
// inside tool arguments; every id found here must pass enterprise and
// workspace validation before the request proceeds.
func ExtractTenantIDs(payload interface{}) TenantIDs {
	c := &idCollector{
		enterpriseSeen: make(map[string]bool),
		workspaceSeen:  make(map[string]bool),
	}
	c.walk(payload)
	return TenantIDs{
		EnterpriseIDs: c.enterpriseIDs,
		WorkspaceIDs:  c.workspaceIDs,
	}
}

type idCollector struct {
	enterpriseIDs  []string
	workspaceIDs   []string
	enterpriseSeen map[string]bool
	workspaceSeen  map[string]bool
}

func (c *idCollector) walk(value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for _, field := range enterpriseIDFields {
			if id, ok := v[field].(string); ok && id != "" && !c.enterpriseSeen[id] {
				c.enterpriseSeen[id] = true
				c.enterpriseIDs = append(c.enterpriseIDs, id)
			}
		}
		for _, field := range workspaceIDFields {
			if id, ok := v[field].(string); ok && id != "" && !c.workspaceSeen[id] {
				c.workspaceSeen[id] = true
				c.workspaceIDs = append(c.workspaceIDs, id)
			}
		}
		for _, nested := range v {
			c.walk(nested)
		}
	case []interface{}:
		for _, item := range v {
			c.walk(item)
		}
	}
}
