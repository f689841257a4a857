// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the result of classifying a single input.
type Verdict struct {
	Detected    bool      `json:"detected"`
	Confidence  float64   `json:"confidence"`
	Rule        string    `json:"rule"`
	Category    Category  `json:"category"`
	Risk        RiskLevel `json:"risk_level"`
	MatchedText string    `json:"matched_text,omitempty"`
}

// ConversationReport aggregates verdicts across a multi-message conversation.
type ConversationReport struct {
	OverallRisk RiskLevel `json:"overall_risk"`
	Detections  []Verdict `json:"detections"`
	Summary     string    `json:"summary"`
}

// Guard detects prompt injection attempts in agent inputs.
// Classification never fails: malformed or oversized inputs degrade to
// heuristic checks instead of returning errors.
type Guard struct {
	rules       *RuleSet
	maxInputLen int
	snippetLen  int
}

// Option is a functional option for configuring a Guard.
type Option func(*Guard)

// WithRuleSet sets a custom rule set for the guard.
func WithRuleSet(rs *RuleSet) Option {
	return func(g *Guard) {
		g.rules = rs
	}
}

// WithMaxInputLength sets the maximum input length to classify.
func WithMaxInputLength(maxLen int) Option {
	return func(g *Guard) {
		g.maxInputLen = maxLen
	}
}

// WithSnippetLength sets the length of matched snippets in verdicts.
func WithSnippetLength(length int) Option {
	return func(g *Guard) {
		g.snippetLen = length
	}
}

// New creates a guard with the given options.
func New(opts ...Option) *Guard {
	g := &Guard{
		rules:       NewRuleSet(),
		maxInputLen: 1048576, // 1MB default
		snippetLen:  100,     // 100 chars for logging
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// suspiciousTokens are substrings that warrant higher scrutiny when they
// cluster in a short input. Used by the density heuristic after no rule
// matched.
var suspiciousTokens = []string{
	"sudo", "root", "admin", "jailbreak", "bypass", "override",
	"unrestricted", "unfiltered", "uncensored", "without limits",
	"no rules", "no restrictions", "developer mode", "debug mode",
}

// Classify analyzes a single input for prompt injection attempts.
// Rules are checked in catalog order and the first match wins; inputs
// that pass every rule fall through to the token-density and encoding
// heuristics.
func (g *Guard) Classify(input string) Verdict {
	normalized := strings.TrimSpace(input)

	if normalized == "" {
		return Verdict{Category: CategoryInstructionOverride, Risk: RiskLow}
	}

	if len(normalized) > g.maxInputLen {
		normalized = normalized[:g.maxInputLen]
	}

	for _, rule := range g.rules.Rules() {
		if match := rule.Regex.FindString(normalized); match != "" {
			return Verdict{
				Detected:    true,
				Confidence:  rule.Confidence,
				Rule:        rule.Name,
				Category:    rule.Category,
				Risk:        rule.Risk,
				MatchedText: g.snippet(match),
			}
		}
	}

	density := suspiciousTokenDensity(normalized)
	if density > 0.1 {
		risk := RiskMedium
		if density > 0.2 {
			risk = RiskHigh
		}
		confidence := density * 5
		if confidence > 0.85 {
			confidence = 0.85
		}
		return Verdict{
			Detected:    true,
			Confidence:  confidence,
			Rule:        "suspicious_token_density",
			Category:    CategoryJailbreakAttempt,
			Risk:        risk,
			MatchedText: fmt.Sprintf("high suspicious token density: %.1f%%", density*100),
		}
	}

	if hasEncodingAnomaly(normalized) {
		return Verdict{
			Detected:    true,
			Confidence:  0.70,
			Rule:        "encoding_anomaly",
			Category:    CategoryEncodingAttack,
			Risk:        RiskMedium,
			MatchedText: "unusual character distribution detected",
		}
	}

	return Verdict{Category: CategoryInstructionOverride, Risk: RiskLow}
}

// AnalyzeConversation classifies every message and rolls the verdicts up
// into an overall risk. Any critical or high detection dominates; two or
// more detections, or a single medium one, raise the conversation to medium.
func (g *Guard) AnalyzeConversation(messages []string) ConversationReport {
	detections := make([]Verdict, 0, len(messages))
	var positives []Verdict

	for _, msg := range messages {
		v := g.Classify(msg)
		detections = append(detections, v)
		if v.Detected {
			positives = append(positives, v)
		}
	}

	overall := RiskLow
	mediumCount := 0
	for _, v := range positives {
		if v.Risk >= RiskHigh {
			if v.Risk > overall {
				overall = v.Risk
			}
		} else if v.Risk == RiskMedium {
			mediumCount++
		}
	}
	if overall < RiskMedium && (len(positives) >= 2 || mediumCount > 0) {
		overall = RiskMedium
	}

	summary := "No injection patterns detected"
	if len(positives) > 0 {
		seen := make(map[Category]bool)
		var categories []string
		for _, v := range positives {
			if !seen[v.Category] {
				seen[v.Category] = true
				categories = append(categories, string(v.Category))
			}
		}
		summary = fmt.Sprintf("Detected %d potential injection(s) across categories: %s",
			len(positives), strings.Join(categories, ", "))
	}

	return ConversationReport{
		OverallRisk: overall,
		Detections:  detections,
		Summary:     summary,
	}
}

// suspiciousTokenDensity returns the ratio of suspicious tokens present
// in the input to the input's word count, capped at 1.
func suspiciousTokenDensity(input string) float64 {
	lower := strings.ToLower(input)
	words := len(strings.Fields(lower))
	if words == 0 {
		words = 1
	}

	count := 0
	for _, token := range suspiciousTokens {
		if strings.Contains(lower, token) {
			count++
		}
	}

	density := float64(count) / float64(words)
	if density > 1 {
		density = 1
	}
	return density
}

var base64WordRegex = regexp.MustCompile(`^[A-Za-z0-9+/]{20,}={0,2}$`)

// hasEncodingAnomaly checks for unusual character distribution that might
// indicate an encoded payload.
func hasEncodingAnomaly(input string) bool {
	runes := []rune(input)
	if len(runes) == 0 {
		return false
	}

	nonASCII := 0
	for _, r := range runes {
		if r > 127 {
			nonASCII++
		}
	}
	if float64(nonASCII)/float64(len(runes)) > 0.3 {
		return true
	}

	base64Like := 0
	for _, w := range strings.Fields(input) {
		if base64WordRegex.MatchString(w) {
			base64Like++
		}
	}
	return base64Like > 2
}

// Sanitization regexes for input scrubbing and log masking
var (
	chatDelimiterRegex   = regexp.MustCompile(`(?i)\[SYSTEM\]|\[INST\]|\[/INST\]|<\|im_start\|>|<\|im_end\|>`)
	markupDelimiterRegex = regexp.MustCompile(`(?i)<system>|</system>|<instructions?>|</instructions?>`)
	roleMarkerRegex      = regexp.MustCompile(`(?im)^(Human|Assistant|User|AI|System):`)

	passwordMaskRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*['"]?[^'"\s]+['"]?`)
	apiKeyMaskRegex   = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[=:]\s*['"]?[^'"\s]+['"]?`)
	tokenMaskRegex    = regexp.MustCompile(`(?i)(token|bearer)\s*[=:]\s*['"]?[^'"\s]+['"]?`)
)

// Sanitize strips delimiter injections and escapes role markers.
// Use with caution: it may alter legitimate user input.
func Sanitize(input string) string {
	sanitized := chatDelimiterRegex.ReplaceAllString(input, "")
	sanitized = markupDelimiterRegex.ReplaceAllString(sanitized, "")
	sanitized = roleMarkerRegex.ReplaceAllString(sanitized, "[User said: $1:]")
	return sanitized
}

// snippet creates a safe, truncated copy of matched text for verdicts.
func (g *Guard) snippet(match string) string {
	if len(match) > g.snippetLen {
		match = match[:g.snippetLen] + "..."
	}
	return sanitizeForLog(match)
}

// sanitizeForLog masks credential-shaped substrings before they reach logs.
func sanitizeForLog(input string) string {
	input = strings.ReplaceAll(input, "\n", " ")
	input = passwordMaskRegex.ReplaceAllString(input, "[REDACTED_PASSWORD]")
	input = apiKeyMaskRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	input = tokenMaskRegex.ReplaceAllString(input, "[REDACTED_TOKEN]")
	return input
}
