// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"axonflow/governance/shared/logger"
)

var policyEvalFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "governance_policy_eval_failures_total",
	Help: "Total number of policy evaluations that failed open",
})

func init() {
	prometheus.MustRegister(policyEvalFailures)
}

// rateLimitWindow is the lookback for rate limit rules.
const rateLimitWindow = 24 * time.Hour

// defaultLoadTimeout bounds the policy load stage.
const defaultLoadTimeout = 5 * time.Second

// Engine evaluates requests against a tenant's active policies. The four
// rule families run concurrently and their verdicts are aggregated: the
// final decision is the most severe family decision, and the request is
// allowed unless that decision is block.
//
// The engine fails open: when policies cannot be loaded or a family
// errors, the request is allowed with reduced confidence and the failure
// is logged and counted.
type Engine struct {
	store       Store
	history     HistoryStore
	pricing     *Pricing
	log         *logger.Logger
	loadTimeout time.Duration
	now         func() time.Time
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithPricing overrides the default pricing table.
func WithPricing(p *Pricing) EngineOption {
	return func(e *Engine) { e.pricing = p }
}

// WithLoadTimeout bounds how long the policy load stage may take.
func WithLoadTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.loadTimeout = d }
}

// WithEngineClock injects a clock for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a policy engine. history may be nil, in which case
// rate limit rules are reported as unenforceable rather than evaluated.
func NewEngine(store Store, history HistoryStore, log *logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		history:     history,
		pricing:     DefaultPricing(),
		log:         log,
		loadTimeout: defaultLoadTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// familyVerdict is one rule family's contribution to the result.
type familyVerdict struct {
	decision Decision
	reasons  []string
	violated []string
	err      error
}

func (v *familyVerdict) violate(d Decision, reason, rule string) {
	if d > v.decision {
		v.decision = d
	}
	v.reasons = append(v.reasons, reason)
	v.violated = append(v.violated, rule)
}

// ruleRef ties an extracted rule back to its policy.
type ruleRef struct {
	policyID string
	rule     BoundaryRule
}

// Evaluate runs the request through all active policies for the tenant.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, req Request) Result {
	start := e.now()

	loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()

	policies, err := e.store.LoadActivePolicies(loadCtx, tenantID)
	if err != nil {
		return e.failOpen(tenantID, start, err)
	}

	policyIDs := make([]string, 0, len(policies))
	families := make(map[RuleType][]ruleRef)
	for _, p := range policies {
		policyIDs = append(policyIDs, p.ID)
		for _, r := range p.Rules {
			families[r.Type] = append(families[r.Type], ruleRef{policyID: p.ID, rule: r})
		}
	}

	// The four families are independent; run them concurrently and
	// collect verdicts positionally so aggregation order is stable.
	var (
		wg       sync.WaitGroup
		verdicts [4]familyVerdict
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		verdicts[0] = e.evalModelRules(families[RuleModelRestriction], req)
	}()
	go func() {
		defer wg.Done()
		verdicts[1] = e.evalContentRules(families[RuleContentFilter], req)
	}()
	go func() {
		defer wg.Done()
		verdicts[2] = e.evalRateRules(ctx, families[RuleRateLimit], tenantID, req)
	}()
	go func() {
		defer wg.Done()
		verdicts[3] = e.evalCostRules(families[RuleCostControl], req)
	}()
	wg.Wait()

	for _, v := range verdicts {
		if v.err != nil {
			return e.failOpen(tenantID, start, v.err)
		}
	}

	result := Result{
		Decision:  DecisionAllow,
		PolicyIDs: policyIDs,
	}
	seen := make(map[string]bool)
	agree := true
	for _, v := range verdicts {
		if v.decision > result.Decision {
			result.Decision = v.decision
		}
		if v.decision != verdicts[0].decision {
			agree = false
		}
		for _, reason := range v.reasons {
			if !seen[reason] {
				seen[reason] = true
				result.Reasons = append(result.Reasons, reason)
			}
		}
		result.ViolatedRules = append(result.ViolatedRules, v.violated...)
	}

	result.Allowed = result.Decision != DecisionBlock
	result.Confidence = 0.7
	if agree {
		result.Confidence = 1.0
	}
	result.EvaluationTimeMs = float64(e.now().Sub(start).Microseconds()) / 1000

	return result
}

// failOpen allows the request when evaluation itself failed. Governance
// must not become an availability risk, so the failure is surfaced in
// the reasons and metrics instead of a denial.
func (e *Engine) failOpen(tenantID string, start time.Time, err error) Result {
	policyEvalFailures.Inc()
	e.log.ErrorWithErr(tenantID, "", "Policy evaluation failed open", err, nil)

	return Result{
		Allowed:          true,
		Decision:         DecisionAllow,
		Reasons:          []string{"policy evaluation error: " + err.Error()},
		Confidence:       0.5,
		EvaluationTimeMs: float64(e.now().Sub(start).Microseconds()) / 1000,
	}
}

func (e *Engine) evalModelRules(rules []ruleRef, req Request) familyVerdict {
	var v familyVerdict
	for _, ref := range rules {
		blocked := stringsFromConfig(ref.rule.Config, "blocked_models")
		allowed := stringsFromConfig(ref.rule.Config, "allowed_models")

		if containsModel(blocked, req.Model) {
			v.violate(decisionFor(ref.rule.Severity),
				fmt.Sprintf("model %q is blocked by policy", req.Model),
				string(RuleModelRestriction)+":"+ref.policyID)
			continue
		}
		if len(allowed) > 0 && !containsModel(allowed, req.Model) {
			v.violate(decisionFor(ref.rule.Severity),
				fmt.Sprintf("model %q is not in the allowed model list", req.Model),
				string(RuleModelRestriction)+":"+ref.policyID)
		}
	}
	return v
}

func (e *Engine) evalContentRules(rules []ruleRef, req Request) familyVerdict {
	var v familyVerdict
	prompt := strings.ToLower(req.Prompt)
	for _, ref := range rules {
		if matchesAny(prompt, stringsFromConfig(ref.rule.Config, "allow_patterns")) {
			continue
		}
		if pattern, ok := firstMatch(prompt, stringsFromConfig(ref.rule.Config, "block_patterns")); ok {
			v.violate(decisionFor(ref.rule.Severity),
				fmt.Sprintf("prompt matches blocked content pattern %q", pattern),
				string(RuleContentFilter)+":"+ref.policyID)
		}
	}
	return v
}

func (e *Engine) evalRateRules(ctx context.Context, rules []ruleRef, tenantID string, req Request) familyVerdict {
	var v familyVerdict
	if len(rules) == 0 {
		return v
	}
	if e.history == nil {
		v.reasons = append(v.reasons, "rate_limit_unenforced: no request history source configured")
		return v
	}

	count, err := e.history.CountRequests(ctx, tenantID, req.PartnerID, e.now().Add(-rateLimitWindow))
	if err != nil {
		v.err = fmt.Errorf("count recent requests: %w", err)
		return v
	}

	for _, ref := range rules {
		limit, ok := floatFromConfig(ref.rule.Config, "max_requests_per_day")
		if !ok || limit <= 0 {
			continue
		}
		if float64(count) >= limit {
			v.violate(decisionFor(ref.rule.Severity),
				fmt.Sprintf("daily request limit of %.0f reached (%d in the last 24h)", limit, count),
				string(RuleRateLimit)+":"+ref.policyID)
		}
	}
	return v
}

func (e *Engine) evalCostRules(rules []ruleRef, req Request) familyVerdict {
	var v familyVerdict
	if len(rules) == 0 {
		return v
	}

	estimate := e.pricing.EstimateCost(req.Provider, req.Model, req.EstimatedInputTokens, req.EstimatedOutputTokens)

	for _, ref := range rules {
		if maxPerRequest, ok := floatFromConfig(ref.rule.Config, "max_cost_per_request"); ok && maxPerRequest > 0 {
			if estimate > maxPerRequest {
				v.violate(decisionFor(ref.rule.Severity),
					fmt.Sprintf("estimated request cost $%.4f exceeds limit $%.4f", estimate, maxPerRequest),
					string(RuleCostControl)+":"+ref.policyID)
			}
		}
		// Monthly caps need a cumulative spend source the engine does not
		// have; surface that instead of silently ignoring the rule.
		if monthly, ok := floatFromConfig(ref.rule.Config, "max_monthly_spend"); ok && monthly > 0 {
			v.reasons = append(v.reasons, "cost_monthly_cap_unenforced: monthly spend cap configured but cumulative spend is not tracked")
		}
	}
	return v
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

func matchesAny(prompt string, patterns []string) bool {
	_, ok := firstMatch(prompt, patterns)
	return ok
}

// firstMatch returns the first pattern contained in the lowercased prompt.
func firstMatch(prompt string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(prompt, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
