// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package misuse

import (
	"regexp"
)

// MisuseType classifies a detected misuse pattern.
type MisuseType string

const (
	MisuseEnumerationAttack      MisuseType = "enumeration_attack"
	MisuseExcessiveQueries       MisuseType = "excessive_queries"
	MisuseParameterManipulation  MisuseType = "parameter_manipulation"
	MisuseToolSequenceAnomaly    MisuseType = "tool_sequence_anomaly"
	MisuseDataExfiltrationPattern MisuseType = "data_exfiltration_pattern"
	MisusePrivilegeProbe         MisuseType = "privilege_probe"
	MisuseTimingAnomaly          MisuseType = "timing_anomaly"
	MisuseResourceExhaustion     MisuseType = "resource_exhaustion"
)

// Severity indicates how dangerous a detection is.
// Levels are ordered so the most severe detection can be selected.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the wire representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalJSON emits the severity as its string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Recommendation is the action the detector suggests for a call.
type Recommendation string

const (
	RecommendAllow     Recommendation = "allow"
	RecommendWarn      Recommendation = "warn"
	RecommendBlock     Recommendation = "block"
	RecommendTerminate Recommendation = "terminate"
)

// sequencePattern is a suspicious ordered run of tool calls.
type sequencePattern struct {
	tools       []string
	description string
	misuseType  MisuseType
	confidence  float64
	severity    Severity
}

// suspiciousSequences are tool call runs that indicate misuse when they
// appear within the recent window. Order in the catalog is significant
// only for ties; the most severe match wins overall.
var suspiciousSequences = []sequencePattern{
	{
		tools:       []string{"query_enterprise_data", "query_enterprise_data", "query_enterprise_data"},
		description: "Repeated enterprise data queries may indicate enumeration",
		misuseType:  MisuseEnumerationAttack,
		confidence:  0.7,
		severity:    SeverityHigh,
	},
	{
		tools:       []string{"query_policies", "delete_policy", "delete_policy"},
		description: "Bulk deletion pattern detected",
		misuseType:  MisuseDataExfiltrationPattern,
		confidence:  0.8,
		severity:    SeverityCritical,
	},
	{
		tools:       []string{"modify_enterprise_settings", "create_policy", "modify_enterprise_settings"},
		description: "Rapid settings modification pattern",
		misuseType:  MisusePrivilegeProbe,
		confidence:  0.75,
		severity:    SeverityHigh,
	},
	{
		tools:       []string{"query_audit_logs", "query_audit_logs", "query_audit_logs", "query_audit_logs"},
		description: "Excessive audit log queries may indicate reconnaissance",
		misuseType:  MisuseExcessiveQueries,
		confidence:  0.6,
		severity:    SeverityMedium,
	},
}

// parameterPattern flags suspicious content inside tool arguments.
type parameterPattern struct {
	regex       *regexp.Regexp
	misuseType  MisuseType
	confidence  float64
	severity    Severity
	description string
	isLimit     bool
}

// suspiciousParameters are checked in order against the JSON encoding of
// the pending call's arguments; the first match wins.
var suspiciousParameters = []parameterPattern{
	{
		regex:       regexp.MustCompile(`(?i)\*|%|SELECT\s+\*|DROP\s+|DELETE\s+FROM`),
		misuseType:  MisuseParameterManipulation,
		confidence:  0.9,
		severity:    SeverityCritical,
		description: "SQL injection attempt in parameters",
	},
	{
		regex:       regexp.MustCompile(`(?i)\.\./|\.\.\\|/etc/|/proc/`),
		misuseType:  MisuseParameterManipulation,
		confidence:  0.85,
		severity:    SeverityCritical,
		description: "Path traversal attempt in parameters",
	},
	{
		regex:       regexp.MustCompile(`00000000-0000-0000-0000-000000000000`),
		misuseType:  MisuseEnumerationAttack,
		confidence:  0.7,
		severity:    SeverityHigh,
		description: "Null UUID used for enumeration",
	},
	{
		regex:       regexp.MustCompile(`(?i)admin|root|superuser|system`),
		misuseType:  MisusePrivilegeProbe,
		confidence:  0.5,
		severity:    SeverityMedium,
		description: "Privileged term in parameters",
	},
	{
		regex:       regexp.MustCompile(`(?i)limit['":\s]*\d+`),
		misuseType:  MisuseDataExfiltrationPattern,
		confidence:  0.6,
		severity:    SeverityMedium,
		description: "Large limit value may indicate bulk extraction",
		isLimit:     true,
	},
}

// limitValueRegex extracts the numeric value of a limit argument.
var limitValueRegex = regexp.MustCompile(`(?i)limit['":\s]*(\d+)`)
