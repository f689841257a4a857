// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package guard

import (
	"fmt"
	"regexp"
)

// Category classifies the type of prompt injection a rule detects.
type Category string

const (
	CategoryInstructionOverride Category = "instruction_override"
	CategoryRoleManipulation    Category = "role_manipulation"
	CategorySystemPromptLeak    Category = "system_prompt_leak"
	CategoryJailbreakAttempt    Category = "jailbreak_attempt"
	CategoryDelimiterInjection  Category = "delimiter_injection"
	CategoryEncodingAttack      Category = "encoding_attack"
	CategoryContextManipulation Category = "context_manipulation"
	CategoryToolAbuse           Category = "tool_abuse"
	CategoryDataExfiltration    Category = "data_exfiltration"
)

// RiskLevel indicates how dangerous a detected injection is.
// Levels are ordered so they can be compared directly.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the wire representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskCritical:
		return "critical"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalJSON emits the risk level as its string form.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ParseRiskLevel converts a string risk level to its typed form.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level %q", s)
	}
}

// Rule represents a single prompt injection detection rule.
type Rule struct {
	// Name is a human-readable identifier for the rule.
	Name string

	// Category classifies the injection technique this rule detects.
	Category Category

	// Regex is the compiled regular expression.
	Regex *regexp.Regexp

	// Confidence is the detection confidence when the rule matches (0-1).
	Confidence float64

	// Risk indicates the risk level of a match.
	Risk RiskLevel

	// Description explains what this rule detects.
	Description string
}

// RuleSet holds an ordered collection of injection rules.
// Rules are evaluated in order and the first match wins, so more
// specific rules must appear before broader ones.
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet creates a rule set with the default injection rules.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		rules: defaultRules(),
	}
}

// NewRuleSetFromRules creates a rule set from an explicit rule slice.
// Order is preserved.
func NewRuleSetFromRules(rules []*Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Rules returns all rules in evaluation order.
func (rs *RuleSet) Rules() []*Rule {
	return rs.rules
}

// RulesByCategory returns rules filtered by category.
func (rs *RuleSet) RulesByCategory(category Category) []*Rule {
	var result []*Rule
	for _, r := range rs.rules {
		if r.Category == category {
			result = append(result, r)
		}
	}
	return result
}

// defaultRules returns the built-in prompt injection rules.
// These rules are designed to balance detection accuracy with false positives.
func defaultRules() []*Rule {
	return []*Rule{
		// Instruction override attacks
		{
			Name:        "ignore_previous_instructions",
			Category:    CategoryInstructionOverride,
			Regex:       regexp.MustCompile(`(?i)ignore\s+(previous|all|above|prior|earlier|any)\s+(instructions?|rules?|prompts?|commands?|guidelines?)`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "Attempt to ignore previous instructions",
		},
		{
			Name:        "disregard_prior_context",
			Category:    CategoryInstructionOverride,
			Regex:       regexp.MustCompile(`(?i)disregard\s+(everything|all|any)\s+(above|before|previously)`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "Attempt to disregard prior context",
		},
		{
			Name:        "forget_instructions",
			Category:    CategoryInstructionOverride,
			Regex:       regexp.MustCompile(`(?i)forget\s+(everything|all|your)\s+(instructions?|training|rules?|guidelines?)`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "Attempt to reset agent instructions",
		},
		{
			Name:        "explicit_override",
			Category:    CategoryInstructionOverride,
			Regex:       regexp.MustCompile(`(?i)override\s+(your|the|all)\s+(instructions?|rules?|restrictions?|limitations?)`),
			Confidence:  0.90,
			Risk:        RiskCritical,
			Description: "Explicit override attempt",
		},
		{
			Name:        "injected_instruction_block",
			Category:    CategoryInstructionOverride,
			Regex:       regexp.MustCompile(`(?i)new\s+instructions?:\s*you\s+(must|should|will|are)`),
			Confidence:  0.90,
			Risk:        RiskCritical,
			Description: "Injected instruction block",
		},

		// Role manipulation attacks
		{
			Name:        "privileged_mode_switch",
			Category:    CategoryRoleManipulation,
			Regex:       regexp.MustCompile(`(?i)you\s+are\s+now\s+(in|entering|operating\s+in)\s+(debug|admin|test|developer|root|sudo|maintenance)\s+mode`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "Attempt to switch to privileged mode",
		},
		{
			Name:        "role_impersonation",
			Category:    CategoryRoleManipulation,
			Regex:       regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be|you're)\s+(a\s+different|another|an?\s+unrestricted|an?\s+unfiltered)`),
			Confidence:  0.90,
			Risk:        RiskHigh,
			Description: "Role impersonation attempt",
		},
		{
			Name:        "restriction_bypass_roleplay",
			Category:    CategoryRoleManipulation,
			Regex:       regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+have\s+no|without\s+any)\s+(restrictions?|limitations?|rules?|filters?)`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "Attempt to bypass restrictions via roleplay",
		},
		{
			Name:        "jailbreak_persona",
			Category:    CategoryRoleManipulation,
			Regex:       regexp.MustCompile(`(?i)you\s+are\s+(DAN|STAN|DUDE|KEVIN|MONGO|JAILBROKEN)`),
			Confidence:  0.98,
			Risk:        RiskCritical,
			Description: "Known jailbreak persona injection",
		},
		{
			Name:        "persistent_role_change",
			Category:    CategoryRoleManipulation,
			Regex:       regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(will|must|are|should)\s+(act|behave|respond|operate)`),
			Confidence:  0.85,
			Risk:        RiskHigh,
			Description: "Persistent role change attempt",
		},

		// System prompt leak attempts
		{
			Name:        "system_prompt_extraction",
			Category:    CategorySystemPromptLeak,
			Regex:       regexp.MustCompile(`(?i)(show|reveal|display|print|output|tell\s+me|what\s+is)\s+(your|the)\s+(system\s+prompt|initial\s+instructions?|original\s+prompt|base\s+prompt)`),
			Confidence:  0.90,
			Risk:        RiskHigh,
			Description: "System prompt extraction attempt",
		},
		{
			Name:        "prompt_extraction_repetition",
			Category:    CategorySystemPromptLeak,
			Regex:       regexp.MustCompile(`(?i)repeat\s+(the\s+)?(text|words?|instructions?)\s+(above|before|at\s+the\s+beginning)`),
			Confidence:  0.85,
			Risk:        RiskHigh,
			Description: "Indirect prompt extraction via repetition",
		},
		{
			Name:        "instruction_probing",
			Category:    CategorySystemPromptLeak,
			Regex:       regexp.MustCompile(`(?i)what\s+(were|are)\s+you\s+(told|instructed|programmed)\s+to\s+(do|say|not\s+do)`),
			Confidence:  0.80,
			Risk:        RiskMedium,
			Description: "Indirect instruction probing",
		},

		// Delimiter injection attacks
		{
			Name:        "chat_format_delimiter",
			Category:    CategoryDelimiterInjection,
			Regex:       regexp.MustCompile(`(?i)\[SYSTEM\]|\[INST\]|\[/INST\]|<\|im_start\|>|<\|im_end\|>`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "Chat format delimiter injection",
		},
		{
			Name:        "markup_delimiter",
			Category:    CategoryDelimiterInjection,
			Regex:       regexp.MustCompile("(?i)```system|```instructions?|<system>|</system>|<instructions?>|</instructions?>"),
			Confidence:  0.90,
			Risk:        RiskCritical,
			Description: "XML/Markdown delimiter injection",
		},
		{
			Name:        "conversation_role_delimiter",
			Category:    CategoryDelimiterInjection,
			Regex:       regexp.MustCompile(`(?i)Human:|Assistant:|User:|AI:|System:|###\s*(Instruction|Response|System)`),
			Confidence:  0.85,
			Risk:        RiskHigh,
			Description: "Conversation role delimiter injection",
		},

		// Jailbreak attempts
		{
			Name:        "dan_style_jailbreak",
			Category:    CategoryJailbreakAttempt,
			Regex:       regexp.MustCompile(`(?i)do\s+anything\s+now|bypass\s+(your|all|any)\s+(filters?|restrictions?|safety)`),
			Confidence:  0.95,
			Risk:        RiskCritical,
			Description: "DAN-style jailbreak pattern",
		},
		{
			Name:        "hypothetical_framing",
			Category:    CategoryJailbreakAttempt,
			Regex:       regexp.MustCompile(`(?i)hypothetically|in\s+a\s+hypothetical\s+scenario|for\s+(educational|research)\s+purposes?\s+only`),
			Confidence:  0.70,
			Risk:        RiskMedium,
			Description: "Hypothetical framing evasion",
		},
		{
			Name:        "logic_inversion",
			Category:    CategoryJailbreakAttempt,
			Regex:       regexp.MustCompile(`(?i)opposite\s+day|respond\s+(with\s+)?the\s+opposite|reverse\s+(your|all)\s+(responses?|answers?)`),
			Confidence:  0.85,
			Risk:        RiskHigh,
			Description: "Logic inversion attack",
		},

		// Tool/function abuse
		{
			Name:        "tool_invocation_manipulation",
			Category:    CategoryToolAbuse,
			Regex:       regexp.MustCompile(`(?i)call\s+(the\s+)?function|execute\s+(the\s+)?tool|invoke\s+API|run\s+command`),
			Confidence:  0.75,
			Risk:        RiskMedium,
			Description: "Potential tool invocation manipulation",
		},
		{
			Name:        "json_function_call",
			Category:    CategoryToolAbuse,
			Regex:       regexp.MustCompile(`(?i)\{"(function|tool|action)":\s*"[^"]+"`),
			Confidence:  0.85,
			Risk:        RiskHigh,
			Description: "JSON function call injection",
		},

		// Data exfiltration attempts
		{
			Name:        "external_exfiltration",
			Category:    CategoryDataExfiltration,
			Regex:       regexp.MustCompile(`(?i)send\s+(this|the|all)\s+(data|information|content)\s+to\s+(my\s+)?([a-z]+\.)+[a-z]+`),
			Confidence:  0.90,
			Risk:        RiskCritical,
			Description: "Data exfiltration to external endpoint",
		},
		{
			Name:        "sensitive_data_extraction",
			Category:    CategoryDataExfiltration,
			Regex:       regexp.MustCompile(`(?i)include\s+(in\s+your\s+response|at\s+the\s+end)\s+(all|the)\s+(user|customer|patient|client)\s+(data|records?|information)`),
			Confidence:  0.90,
			Risk:        RiskCritical,
			Description: "Sensitive data extraction attempt",
		},

		// Context manipulation
		{
			Name:        "false_context_boundary",
			Category:    CategoryContextManipulation,
			Regex:       regexp.MustCompile(`(?i)end\s+(of\s+)?(user|human)\s+(input|message|prompt)`),
			Confidence:  0.85,
			Risk:        RiskHigh,
			Description: "False context boundary injection",
		},
		{
			Name:        "context_escalation",
			Category:    CategoryContextManipulation,
			Regex:       regexp.MustCompile(`(?i)begin\s+(new\s+)?(system|admin|developer)\s+(section|context|mode)`),
			Confidence:  0.90,
			Risk:        RiskCritical,
			Description: "Context escalation attempt",
		},

		// Encoding attacks
		{
			Name:        "encoded_payload_indicator",
			Category:    CategoryEncodingAttack,
			Regex:       regexp.MustCompile(`(?i)base64|hex|rot13|unicode|decode\s+(this|the\s+following)`),
			Confidence:  0.70,
			Risk:        RiskMedium,
			Description: "Potential encoded payload indicator",
		},
	}
}
