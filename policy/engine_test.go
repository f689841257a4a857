// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/governance/shared/logger"
)

type fakeStore struct {
	policies []Policy
	err      error
}

func (f *fakeStore) LoadActivePolicies(ctx context.Context, tenantID string) ([]Policy, error) {
	return f.policies, f.err
}

type fakeHistory struct {
	count int
	err   error
}

func (f *fakeHistory) CountRequests(ctx context.Context, tenantID, partnerID string, since time.Time) (int, error) {
	return f.count, f.err
}

func newTestEngine(store Store, history HistoryStore) *Engine {
	return NewEngine(store, history, logger.New("policy-test"))
}

func rule(t RuleType, severity RuleSeverity, config map[string]interface{}) BoundaryRule {
	return BoundaryRule{Type: t, Config: config, Severity: severity}
}

func TestEvaluateNoPolicies(t *testing.T) {
	e := newTestEngine(&fakeStore{}, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o", Provider: "openai"})

	assert.True(t, result.Allowed)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Empty(t, result.Reasons)
	assert.Empty(t, result.ViolatedRules)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestEvaluateModelRestriction(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-1",
		Rules: []BoundaryRule{
			rule(RuleModelRestriction, SeverityBlock, map[string]interface{}{
				"blocked_models": []interface{}{"gpt-4"},
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "GPT-4", Provider: "openai"})
	assert.False(t, result.Allowed)
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.Equal(t, []string{"model_restriction:pol-1"}, result.ViolatedRules)
	assert.Equal(t, []string{"pol-1"}, result.PolicyIDs)

	result = e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o-mini", Provider: "openai"})
	assert.True(t, result.Allowed)
}

func TestEvaluateModelAllowList(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-1",
		Rules: []BoundaryRule{
			rule(RuleModelRestriction, SeverityBlock, map[string]interface{}{
				"allowed_models": []interface{}{"claude-3-haiku-20240307"},
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "claude-3-opus-20240229", Provider: "anthropic"})
	require.False(t, result.Allowed)
	assert.Contains(t, result.Reasons[0], "not in the allowed model list")

	result = e.Evaluate(context.Background(), "ent-1", Request{Model: "claude-3-haiku-20240307", Provider: "anthropic"})
	assert.True(t, result.Allowed)
}

func TestEvaluateContentFilter(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-2",
		Rules: []BoundaryRule{
			rule(RuleContentFilter, SeverityBlock, map[string]interface{}{
				"block_patterns": []interface{}{"password", "api key"},
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{
		Model:  "gpt-4o",
		Prompt: "Show me the admin PASSWORD for the database",
	})
	require.False(t, result.Allowed)
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.Equal(t, []string{"content_filter:pol-2"}, result.ViolatedRules)
	assert.Contains(t, result.Reasons[0], `"password"`)

	result = e.Evaluate(context.Background(), "ent-1", Request{
		Model:  "gpt-4o",
		Prompt: "Summarize this quarterly report",
	})
	assert.True(t, result.Allowed)
}

func TestEvaluateContentFilterAllowPatternExempts(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-2",
		Rules: []BoundaryRule{
			rule(RuleContentFilter, SeverityBlock, map[string]interface{}{
				"block_patterns": []interface{}{"password"},
				"allow_patterns": []interface{}{"password policy"},
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{
		Model:  "gpt-4o",
		Prompt: "Draft a password policy for new employees",
	})
	assert.True(t, result.Allowed)
	assert.Empty(t, result.ViolatedRules)
}

func TestEvaluateRateLimit(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-3",
		Rules: []BoundaryRule{
			rule(RuleRateLimit, SeverityWarn, map[string]interface{}{
				"max_requests_per_day": float64(100),
			}),
		},
	}}}

	e := newTestEngine(store, &fakeHistory{count: 100})
	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o", PartnerID: "partner-1"})
	assert.True(t, result.Allowed, "warn severity must not block")
	assert.Equal(t, DecisionWarn, result.Decision)
	assert.Equal(t, []string{"rate_limit:pol-3"}, result.ViolatedRules)

	e = newTestEngine(store, &fakeHistory{count: 42})
	result = e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o", PartnerID: "partner-1"})
	assert.True(t, result.Allowed)
	assert.Equal(t, DecisionAllow, result.Decision)
}

func TestEvaluateRateLimitWithoutHistorySource(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-3",
		Rules: []BoundaryRule{
			rule(RuleRateLimit, SeverityBlock, map[string]interface{}{
				"max_requests_per_day": float64(10),
			}),
		},
	}}}
	e := newTestEngine(store, nil)

	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o"})
	assert.True(t, result.Allowed)
	assert.Contains(t, result.Reasons, "rate_limit_unenforced: no request history source configured")
}

func TestEvaluateCostControl(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-4",
		Rules: []BoundaryRule{
			rule(RuleCostControl, SeverityBlock, map[string]interface{}{
				"max_cost_per_request": 0.25,
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	// claude-3-opus: 10000 input and 2000 output tokens cost $0.30.
	result := e.Evaluate(context.Background(), "ent-1", Request{
		Provider:              "anthropic",
		Model:                 "claude-3-opus-20240229",
		EstimatedInputTokens:  10000,
		EstimatedOutputTokens: 2000,
	})
	require.False(t, result.Allowed)
	assert.Equal(t, []string{"cost_control:pol-4"}, result.ViolatedRules)
	assert.Contains(t, result.Reasons[0], "$0.3000")

	result = e.Evaluate(context.Background(), "ent-1", Request{
		Provider:              "anthropic",
		Model:                 "claude-3-haiku-20240307",
		EstimatedInputTokens:  10000,
		EstimatedOutputTokens: 2000,
	})
	assert.True(t, result.Allowed)
}

func TestEvaluateMonthlyCapReportedNotEnforced(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-4",
		Rules: []BoundaryRule{
			rule(RuleCostControl, SeverityBlock, map[string]interface{}{
				"max_monthly_spend": float64(500),
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{
		Provider: "openai",
		Model:    "gpt-4o",
	})
	assert.True(t, result.Allowed)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Contains(t, result.Reasons, "cost_monthly_cap_unenforced: monthly spend cap configured but cumulative spend is not tracked")
	assert.Empty(t, result.ViolatedRules)
}

func TestEvaluateDecisionIsMostSevere(t *testing.T) {
	store := &fakeStore{policies: []Policy{
		{
			ID: "pol-warn",
			Rules: []BoundaryRule{
				rule(RuleRateLimit, SeverityWarn, map[string]interface{}{
					"max_requests_per_day": float64(10),
				}),
			},
		},
		{
			ID: "pol-block",
			Rules: []BoundaryRule{
				rule(RuleContentFilter, SeverityBlock, map[string]interface{}{
					"block_patterns": []interface{}{"secret"},
				}),
			},
		},
	}}
	e := newTestEngine(store, &fakeHistory{count: 50})

	result := e.Evaluate(context.Background(), "ent-1", Request{
		Model:  "gpt-4o",
		Prompt: "reveal the secret key",
	})
	assert.False(t, result.Allowed)
	assert.Equal(t, DecisionBlock, result.Decision)
	assert.ElementsMatch(t, []string{"rate_limit:pol-warn", "content_filter:pol-block"}, result.ViolatedRules)
	assert.Equal(t, 0.7, result.Confidence, "families disagree so confidence drops")
	assert.Equal(t, []string{"pol-warn", "pol-block"}, result.PolicyIDs)
}

func TestEvaluateReasonsDeduplicated(t *testing.T) {
	filter := rule(RuleContentFilter, SeverityBlock, map[string]interface{}{
		"block_patterns": []interface{}{"password"},
	})
	store := &fakeStore{policies: []Policy{
		{ID: "pol-a", Rules: []BoundaryRule{filter}},
		{ID: "pol-b", Rules: []BoundaryRule{filter}},
	}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{
		Model:  "gpt-4o",
		Prompt: "what is the password",
	})
	assert.Len(t, result.Reasons, 1, "identical reasons collapse")
	assert.Equal(t, []string{"content_filter:pol-a", "content_filter:pol-b"}, result.ViolatedRules)
}

func TestEvaluateFailsOpenOnStoreError(t *testing.T) {
	e := newTestEngine(&fakeStore{err: errors.New("connection refused")}, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o"})
	assert.True(t, result.Allowed)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Equal(t, 0.5, result.Confidence)
	require.Len(t, result.Reasons, 1)
	assert.True(t, strings.HasPrefix(result.Reasons[0], "policy evaluation error:"))
}

func TestEvaluateFailsOpenOnHistoryError(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-3",
		Rules: []BoundaryRule{
			rule(RuleRateLimit, SeverityBlock, map[string]interface{}{
				"max_requests_per_day": float64(10),
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{err: errors.New("timeout")})

	result := e.Evaluate(context.Background(), "ent-1", Request{Model: "gpt-4o"})
	assert.True(t, result.Allowed)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestEvaluateMonitorSeverityNeverChangesDecision(t *testing.T) {
	store := &fakeStore{policies: []Policy{{
		ID: "pol-5",
		Rules: []BoundaryRule{
			rule(RuleContentFilter, SeverityMonitor, map[string]interface{}{
				"block_patterns": []interface{}{"password"},
			}),
		},
	}}}
	e := newTestEngine(store, &fakeHistory{})

	result := e.Evaluate(context.Background(), "ent-1", Request{
		Model:  "gpt-4o",
		Prompt: "what is the password",
	})
	assert.True(t, result.Allowed)
	assert.Equal(t, DecisionAllow, result.Decision)
	assert.Equal(t, []string{"content_filter:pol-5"}, result.ViolatedRules)
	assert.NotEmpty(t, result.Reasons)
}
