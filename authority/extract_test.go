// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package authority

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestExtractTenantIDs(t *testing.T) {
	tests := []struct {
		name            string
		payload         string
		wantEnterprises []string
		wantWorkspaces  []string
	}{
		{
			name:            "flat payload",
			payload:         `{"enterprise_id": "ent-1", "workspace_id": "ws-1"}`,
			wantEnterprises: []string{"ent-1"},
			wantWorkspaces:  []string{"ws-1"},
		},
		{
			name:            "camel case aliases",
			payload:         `{"tenantId": "ent-2", "projectId": "ws-2"}`,
			wantEnterprises: []string{"ent-2"},
			wantWorkspaces:  []string{"ws-2"},
		},
		{
			name: "ids smuggled in nested arguments",
			payload: `{
				"tool": "query_policies",
				"args": {
					"filters": [
						{"org_id": "ent-evil"},
						{"workspace_id": "ws-evil"}
					]
				}
			}`,
			wantEnterprises: []string{"ent-evil"},
			wantWorkspaces:  []string{"ws-evil"},
		},
		{
			name:            "duplicates collapsed",
			payload:         `{"enterprise_id": "ent-1", "nested": {"tenant_id": "ent-1"}}`,
			wantEnterprises: []string{"ent-1"},
		},
		{
			name:    "non-string ids ignored",
			payload: `{"enterprise_id": 42, "workspace_id": null}`,
		},
		{
			name:    "empty payload",
			payload: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload interface{}
			if err := json.Unmarshal([]byte(tt.payload), &payload); err != nil {
				t.Fatalf("bad test payload: %v", err)
			}

			ids := ExtractTenantIDs(payload)

			if !reflect.DeepEqual(ids.EnterpriseIDs, tt.wantEnterprises) {
				t.Errorf("EnterpriseIDs = %v, want %v", ids.EnterpriseIDs, tt.wantEnterprises)
			}
			if !reflect.DeepEqual(ids.WorkspaceIDs, tt.wantWorkspaces) {
				t.Errorf("WorkspaceIDs = %v, want %v", ids.WorkspaceIDs, tt.wantWorkspaces)
			}
		})
	}
}

func TestExtractTenantIDsNonObjectPayload(t *testing.T) {
	ids := ExtractTenantIDs("just a string")
	if len(ids.EnterpriseIDs) != 0 || len(ids.WorkspaceIDs) != 0 {
		t.Errorf("expected no ids, got %+v", ids)
	}
}
