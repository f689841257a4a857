// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package pipeline chains the governance stages into a single entry
// point: injection screening, authority validation, misuse detection,
// policy evaluation, and proof sealing. Every terminal state, including
// denials, produces a sealed audit record before the outcome is
// returned.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"axonflow/governance/authority"
	"axonflow/governance/guard"
	"axonflow/governance/misuse"
	"axonflow/governance/policy"
	"axonflow/governance/proof"
	"axonflow/governance/shared/logger"
)

// Principal identifies the caller being governed.
type Principal struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	PartnerID string `json:"partner_id"`
}

// Request is one governed agent action.
type Request struct {
	Principal Principal              `json:"principal"`
	Action    authority.Action       `json:"action"`
	Payload   map[string]interface{} `json:"payload"`

	Prompt                string `json:"prompt"`
	Provider              string `json:"provider"`
	Model                 string `json:"model"`
	EstimatedInputTokens  int    `json:"estimated_input_tokens"`
	EstimatedOutputTokens int    `json:"estimated_output_tokens"`
}

// Outcome is the pipeline's decision plus its supporting evidence.
// Category carries a machine-readable code on blocks: the injection
// category, authority violation type, or misuse type.
type Outcome struct {
	RequestID string               `json:"request_id"`
	Decision  policy.Decision      `json:"decision"`
	Reasons   []string             `json:"reasons"`
	Category  string               `json:"category,omitempty"`
	Violation *authority.Violation `json:"violation,omitempty"`
	Misuse    *misuse.Result       `json:"misuse,omitempty"`
	Policy    *policy.Result       `json:"policy,omitempty"`
	Bundle    *proof.Bundle        `json:"proof_bundle"`
}

// Config wires the pipeline's collaborators. All fields are required
// except Detector, which defaults to an in-memory detector.
type Config struct {
	Guard     *guard.Guard
	Validator *authority.Validator
	Detector  *misuse.Detector
	Engine    *policy.Engine
	Sealer    *proof.Sealer
	Sink      proof.Sink
	Logger    *logger.Logger
}

// Pipeline governs agent requests end to end.
type Pipeline struct {
	guard     *guard.Guard
	validator *authority.Validator
	detector  *misuse.Detector
	engine    *policy.Engine
	sealer    *proof.Sealer
	sink      proof.Sink
	log       *logger.Logger
	now       func() time.Time
}

// New creates a pipeline from the given collaborators.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Guard == nil:
		return nil, errors.New("pipeline: guard is required")
	case cfg.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	case cfg.Engine == nil:
		return nil, errors.New("pipeline: policy engine is required")
	case cfg.Sealer == nil:
		return nil, errors.New("pipeline: sealer is required")
	case cfg.Sink == nil:
		return nil, errors.New("pipeline: audit sink is required")
	case cfg.Logger == nil:
		return nil, errors.New("pipeline: logger is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = misuse.NewDetector()
	}
	return &Pipeline{
		guard:     cfg.Guard,
		validator: cfg.Validator,
		detector:  cfg.Detector,
		engine:    cfg.Engine,
		sealer:    cfg.Sealer,
		sink:      cfg.Sink,
		log:       cfg.Logger,
		now:       time.Now,
	}, nil
}

// Govern runs a request through every stage. Detection stages resolve
// to verdicts rather than errors; an error return means the request's
// decision could not be sealed into the audit trail and the request
// must be treated as failed.
func (p *Pipeline) Govern(ctx context.Context, req Request) (*Outcome, error) {
	start := p.now()
	out := &Outcome{
		RequestID: uuid.NewString(),
		Decision:  policy.DecisionAllow,
	}
	var warnReasons []string

	// Injection screening. High and critical risk block before any
	// authorization work; lower risk rides along as a warning.
	verdict := p.guard.Classify(req.Prompt)
	if verdict.Detected {
		if verdict.Risk >= guard.RiskHigh {
			p.deny(out, stageInjection, string(verdict.Category),
				fmt.Sprintf("prompt injection detected: %s", verdict.Rule))
			return p.finish(ctx, req, req.Action.TargetEnterpriseID, out, start)
		}
		warnReasons = append(warnReasons, fmt.Sprintf("prompt injection suspected: %s", verdict.Rule))
	}

	// Authority resolution and validation.
	authCtx, err := p.validator.BuildContext(ctx, req.Principal.ID, req.Principal.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve principal authority: %w", err)
	}
	if authCtx == nil {
		out.Violation = &authority.Violation{
			Type:              authority.ViolationResourceNotFound,
			RequestedResource: "principal:" + req.Principal.ID,
			Severity:          authority.SeverityCritical,
			Timestamp:         p.now().UTC(),
		}
		p.deny(out, stageAuthority, string(authority.ViolationResourceNotFound),
			fmt.Sprintf("Unknown principal: %s", req.Principal.ID))
		return p.finish(ctx, req, req.Action.TargetEnterpriseID, out, start)
	}

	// Tenant ids smuggled inside the payload are validated the same as
	// the declared action targets.
	ids := authority.ExtractTenantIDs(req.Payload)
	for _, entID := range ids.EnterpriseIDs {
		if res := p.validator.ValidateEnterpriseAccess(authCtx, entID); !res.Authorized {
			return p.denyAuthority(ctx, req, authCtx, out, res, start)
		}
	}
	for _, wsID := range ids.WorkspaceIDs {
		if res := p.validator.ValidateWorkspaceAccess(authCtx, wsID); !res.Authorized {
			return p.denyAuthority(ctx, req, authCtx, out, res, start)
		}
	}
	if res := p.validator.ValidateAction(ctx, authCtx, req.Action); !res.Authorized {
		return p.denyAuthority(ctx, req, authCtx, out, res, start)
	}

	// Misuse detection over the session's recent history.
	mres := p.detector.Detect(p.sessionKey(req.Principal), req.Action.ToolName, req.Payload)
	if mres.Detected {
		out.Misuse = &mres
		if mres.Recommendation == misuse.RecommendBlock || mres.Recommendation == misuse.RecommendTerminate {
			p.deny(out, stageMisuse, string(mres.Type), mres.Details)
			return p.finish(ctx, req, authCtx.EnterpriseID, out, start)
		}
		warnReasons = append(warnReasons, mres.Details)
	}

	// Policy evaluation.
	pres := p.engine.Evaluate(ctx, authCtx.EnterpriseID, policy.Request{
		Provider:              req.Provider,
		Model:                 req.Model,
		Prompt:                req.Prompt,
		PartnerID:             req.Principal.PartnerID,
		EstimatedInputTokens:  req.EstimatedInputTokens,
		EstimatedOutputTokens: req.EstimatedOutputTokens,
	})
	out.Policy = &pres
	out.Decision = pres.Decision
	out.Reasons = append(out.Reasons, pres.Reasons...)
	if pres.Decision == policy.DecisionBlock {
		blocksTotal.WithLabelValues(stagePolicy).Inc()
	}

	if len(warnReasons) > 0 {
		out.Reasons = append(out.Reasons, warnReasons...)
		if out.Decision < policy.DecisionWarn {
			out.Decision = policy.DecisionWarn
		}
	}

	return p.finish(ctx, req, authCtx.EnterpriseID, out, start)
}

// VerifyBundle re-verifies a sealed bundle's internal MAC.
func (p *Pipeline) VerifyBundle(b *proof.Bundle) bool {
	return p.sealer.Verify(b)
}

func (p *Pipeline) deny(out *Outcome, stage, category string, reason string) {
	out.Decision = policy.DecisionBlock
	out.Category = category
	out.Reasons = append(out.Reasons, reason)
	blocksTotal.WithLabelValues(stage).Inc()
}

func (p *Pipeline) denyAuthority(ctx context.Context, req Request, authCtx *authority.Context, out *Outcome, res authority.Result, start time.Time) (*Outcome, error) {
	out.Violation = res.Violation
	category := ""
	if res.Violation != nil {
		category = string(res.Violation.Type)
	}
	p.deny(out, stageAuthority, category, res.Reason)
	return p.finish(ctx, req, authCtx.EnterpriseID, out, start)
}

// finish seals the decision, appends it to the audit sink, records the
// call for misuse analysis, and emits metrics. Sealing or appending
// failures are fatal to the request.
func (p *Pipeline) finish(ctx context.Context, req Request, tenantID string, out *Outcome, start time.Time) (*Outcome, error) {
	now := p.now()

	// Actions that name no target still belong to the principal's own
	// tenant; recording an empty id would make it count as a distinct
	// enterprise in enumeration analysis.
	recordedEnterprise := req.Action.TargetEnterpriseID
	if recordedEnterprise == "" {
		recordedEnterprise = tenantID
	}
	p.detector.Record(p.sessionKey(req.Principal), misuse.CallRecord{
		ToolName:     req.Action.ToolName,
		Args:         req.Payload,
		Timestamp:    now,
		Success:      out.Decision != policy.DecisionBlock,
		EnterpriseID: recordedEnterprise,
		WorkspaceID:  req.Action.TargetWorkspaceID,
	})

	sealVerdict := proof.Verdict{
		Decision:   out.Decision.String(),
		Reasons:    out.Reasons,
		Confidence: 1.0,
	}
	if out.Policy != nil {
		sealVerdict.PolicyIDs = out.Policy.PolicyIDs
		sealVerdict.Confidence = out.Policy.Confidence
	}

	bundle, err := p.sealer.Seal(proof.Request{
		PartnerID:    req.Principal.PartnerID,
		EnterpriseID: tenantID,
		Model:        req.Model,
		Prompt:       req.Prompt,
		Timestamp:    now.UTC(),
	}, sealVerdict, nil)
	if err != nil {
		sealFailures.Inc()
		p.log.ErrorWithErr(tenantID, out.RequestID, "Failed to seal governance decision", err, nil)
		return nil, fmt.Errorf("seal governance decision: %w", err)
	}
	out.Bundle = bundle

	eventType := proof.EventAccessGranted
	if out.Decision == policy.DecisionBlock {
		eventType = proof.EventAccessDenied
	}

	requestData, _ := json.Marshal(map[string]interface{}{
		"tool":     req.Action.ToolName,
		"scope":    req.Action.Scope,
		"model":    req.Model,
		"provider": req.Provider,
	})
	policyResult, _ := json.Marshal(map[string]interface{}{
		"decision": out.Decision,
		"reasons":  out.Reasons,
		"category": out.Category,
	})

	if err := p.sink.Append(ctx, proof.Record{
		ID:           out.RequestID,
		EventType:    eventType,
		PartnerID:    req.Principal.PartnerID,
		EnterpriseID: tenantID,
		WorkspaceID:  req.Action.TargetWorkspaceID,
		RequestData:  requestData,
		PolicyResult: policyResult,
		Bundle:       bundle,
		CreatedAt:    now.UTC(),
	}); err != nil {
		sealFailures.Inc()
		p.log.ErrorWithErr(tenantID, out.RequestID, "Failed to append audit record", err, nil)
		return nil, fmt.Errorf("append audit record: %w", err)
	}

	requestsTotal.WithLabelValues(out.Decision.String()).Inc()
	governDuration.Observe(p.now().Sub(start).Seconds())

	p.log.InfoWithDuration(tenantID, out.RequestID, "Request governed",
		float64(p.now().Sub(start).Microseconds())/1000, map[string]interface{}{
			"decision": out.Decision.String(),
			"tool":     req.Action.ToolName,
			"category": out.Category,
		})

	return out, nil
}

func (p *Pipeline) sessionKey(principal Principal) string {
	if principal.SessionID != "" {
		return principal.SessionID
	}
	return principal.ID
}
