// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

// RuleType identifies a boundary rule family.
type RuleType string

const (
	RuleModelRestriction RuleType = "model_restriction"
	RuleContentFilter    RuleType = "content_filter"
	RuleRateLimit        RuleType = "rate_limit"
	RuleCostControl      RuleType = "cost_control"
)

// RuleSeverity is what happens when a boundary rule is violated.
// block denies the request, warn flags it, monitor only records a reason.
type RuleSeverity string

const (
	SeverityBlock   RuleSeverity = "block"
	SeverityWarn    RuleSeverity = "warn"
	SeverityMonitor RuleSeverity = "monitor"
)

// Decision is the aggregated outcome of a policy evaluation.
// Values are ordered allow < warn < block so aggregation can take the max.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionWarn
	DecisionBlock
)

// String returns the wire representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionBlock:
		return "block"
	case DecisionWarn:
		return "warn"
	default:
		return "allow"
	}
}

// MarshalJSON emits the decision as its string form.
func (d Decision) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// decisionFor maps a violated rule's severity to a decision.
func decisionFor(s RuleSeverity) Decision {
	switch s {
	case SeverityBlock:
		return DecisionBlock
	case SeverityWarn:
		return DecisionWarn
	default:
		return DecisionAllow
	}
}

// BoundaryRule is one governance constraint extracted from a policy.
// Config keys depend on the rule type:
//
//	model_restriction: allowed_models, blocked_models
//	content_filter:    block_patterns, allow_patterns
//	rate_limit:        max_requests_per_day
//	cost_control:      max_cost_per_request, max_monthly_spend
type BoundaryRule struct {
	Type     RuleType               `json:"type"`
	Config   map[string]interface{} `json:"config"`
	Severity RuleSeverity           `json:"severity"`
}

// Policy is a tenant's stored governance policy.
type Policy struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Name     string         `json:"name"`
	Rules    []BoundaryRule `json:"rules"`
}

// Request carries the request characteristics the engine evaluates.
type Request struct {
	Provider              string `json:"provider"`
	Model                 string `json:"model"`
	Prompt                string `json:"prompt"`
	PartnerID             string `json:"partner_id"`
	EstimatedInputTokens  int    `json:"estimated_input_tokens"`
	EstimatedOutputTokens int    `json:"estimated_output_tokens"`
}

// Result is the aggregated evaluation outcome.
type Result struct {
	Allowed          bool     `json:"allowed"`
	Decision         Decision `json:"decision"`
	Reasons          []string `json:"reasons"`
	ViolatedRules    []string `json:"violated_rules"`
	PolicyIDs        []string `json:"policy_ids"`
	Confidence       float64  `json:"confidence"`
	EvaluationTimeMs float64  `json:"evaluation_time_ms"`
}

// stringsFromConfig reads a []string out of a rule config value,
// tolerating the []interface{} form JSON decoding produces.
func stringsFromConfig(config map[string]interface{}, key string) []string {
	raw, ok := config[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// floatFromConfig reads a numeric config value; ok is false when absent
// or not a number.
func floatFromConfig(config map[string]interface{}, key string) (float64, bool) {
	raw, ok := config[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
