// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package misuse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Anomaly detection thresholds
const (
	maxCallsPerMinute          = 30
	maxFailedCallsPercent      = 0.5
	maxUniqueEnterpriseIDs     = 3
	maxSequentialSameToolCalls = 5
	minCallInterval            = 100 * time.Millisecond

	// maxNormalLimit is the largest limit argument considered routine.
	maxNormalLimit = 100
)

// Result is the outcome of a misuse check.
type Result struct {
	Detected       bool           `json:"detected"`
	Confidence     float64        `json:"confidence"`
	Type           MisuseType     `json:"misuse_type"`
	Severity       Severity       `json:"severity"`
	Details        string         `json:"details"`
	Recommendation Recommendation `json:"recommendation"`
}

// SessionStats summarizes a session's recent tool activity.
type SessionStats struct {
	CallCount   int        `json:"call_count"`
	UniqueTools int        `json:"unique_tools"`
	FailureRate float64    `json:"failure_rate"`
	OldestCall  *time.Time `json:"oldest_call,omitempty"`
}

// Detector spots anomalous tool usage across a session: suspicious
// parameters, dangerous call sequences, rapid-fire timing, excessive
// failures, and cross-tenant enumeration. Detection never errors;
// insufficient history simply skips a check.
type Detector struct {
	history HistoryStore
}

// DetectorOption is a functional option for configuring a Detector.
type DetectorOption func(*Detector)

// WithHistoryStore sets the backing history store.
func WithHistoryStore(h HistoryStore) DetectorOption {
	return func(d *Detector) {
		d.history = h
	}
}

// NewDetector creates a detector with the given options.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		history: NewMemoryHistory(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Record stores a completed tool call for later pattern analysis.
func (d *Detector) Record(sessionID string, rec CallRecord) {
	d.history.Append(sessionID, rec)
}

// Detect analyzes a pending tool call against the session's history.
// All five checks run and the most severe detection wins; ties keep
// the earlier check's result.
func (d *Detector) Detect(sessionID string, toolName string, args map[string]interface{}) Result {
	history := d.history.Recent(sessionID)
	var detections []Result

	if r := d.checkParameters(args); r.Detected {
		detections = append(detections, r)
	}
	if r := d.checkSequence(history, toolName); r.Detected {
		detections = append(detections, r)
	}
	if r := d.checkTiming(history); r.Detected {
		detections = append(detections, r)
	}
	if r := d.checkFailures(history); r.Detected {
		detections = append(detections, r)
	}
	if r := d.checkEnumeration(history); r.Detected {
		detections = append(detections, r)
	}

	if len(detections) > 0 {
		best := detections[0]
		for _, r := range detections[1:] {
			if r.Severity > best.Severity {
				best = r
			}
		}
		return best
	}

	return Result{
		Type:           MisuseToolSequenceAnomaly,
		Severity:       SeverityLow,
		Details:        "No misuse patterns detected",
		Recommendation: RecommendAllow,
	}
}

// ClearSession drops all recorded history for a session.
func (d *Detector) ClearSession(sessionID string) {
	d.history.Clear(sessionID)
}

// Stats returns monitoring statistics for a session.
func (d *Detector) Stats(sessionID string) SessionStats {
	history := d.history.Recent(sessionID)

	stats := SessionStats{CallCount: len(history)}
	if len(history) == 0 {
		return stats
	}

	tools := make(map[string]bool)
	failed := 0
	for _, r := range history {
		tools[r.ToolName] = true
		if !r.Success {
			failed++
		}
	}
	stats.UniqueTools = len(tools)
	stats.FailureRate = float64(failed) / float64(len(history))
	oldest := history[0].Timestamp
	stats.OldestCall = &oldest
	return stats
}

// checkParameters scans the JSON form of the call arguments for
// suspicious content. Limit arguments at or below maxNormalLimit are
// routine pagination and exempt.
func (d *Detector) checkParameters(args map[string]interface{}) Result {
	encoded, err := json.Marshal(args)
	if err != nil {
		// Unencodable args cannot be pattern-checked; other checks still run.
		return Result{}
	}
	argsString := string(encoded)

	for _, p := range suspiciousParameters {
		if !p.regex.MatchString(argsString) {
			continue
		}

		if p.isLimit {
			if m := limitValueRegex.FindStringSubmatch(argsString); m != nil {
				if value, err := strconv.Atoi(m[1]); err == nil && value <= maxNormalLimit {
					continue
				}
			}
		}

		return Result{
			Detected:       true,
			Confidence:     p.confidence,
			Type:           p.misuseType,
			Severity:       p.severity,
			Details:        p.description,
			Recommendation: recommendFor(p.severity),
		}
	}

	return Result{}
}

// checkSequence matches the last five calls plus the pending one
// against the suspicious sequence catalog, then looks for long runs
// of the same tool.
func (d *Detector) checkSequence(history []CallRecord, currentTool string) Result {
	start := 0
	if len(history) > 5 {
		start = len(history) - 5
	}
	recent := make([]string, 0, 6)
	for _, r := range history[start:] {
		recent = append(recent, r.ToolName)
	}
	recent = append(recent, currentTool)

	for _, p := range suspiciousSequences {
		if containsSequence(recent, p.tools) {
			return Result{
				Detected:       true,
				Confidence:     p.confidence,
				Type:           p.misuseType,
				Severity:       p.severity,
				Details:        p.description,
				Recommendation: recommendFor(p.severity),
			}
		}
	}

	if run := longestSameToolRun(recent); run >= maxSequentialSameToolCalls {
		return Result{
			Detected:       true,
			Confidence:     0.6,
			Type:           MisuseExcessiveQueries,
			Severity:       SeverityMedium,
			Details:        fmt.Sprintf("%d sequential calls to the same tool", run),
			Recommendation: RecommendWarn,
		}
	}

	return Result{}
}

// checkTiming flags rapid-fire call patterns: overall call frequency
// above maxCallsPerMinute, or a majority of gaps under minCallInterval.
func (d *Detector) checkTiming(history []CallRecord) Result {
	if len(history) < 2 {
		return Result{}
	}

	rapidCount := 0
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Sub(history[i-1].Timestamp) < minCallInterval {
			rapidCount++
		}
	}

	window := history[len(history)-1].Timestamp.Sub(history[0].Timestamp)
	callsPerMinute := math.Inf(1)
	if window > 0 {
		callsPerMinute = float64(len(history)) / window.Minutes()
	}

	if callsPerMinute > maxCallsPerMinute {
		return Result{
			Detected:       true,
			Confidence:     0.7,
			Type:           MisuseResourceExhaustion,
			Severity:       SeverityHigh,
			Details:        fmt.Sprintf("High call frequency: %.1f calls/minute", callsPerMinute),
			Recommendation: RecommendWarn,
		}
	}

	if float64(rapidCount) > float64(len(history))*0.5 {
		return Result{
			Detected:       true,
			Confidence:     0.6,
			Type:           MisuseTimingAnomaly,
			Severity:       SeverityMedium,
			Details:        fmt.Sprintf("%d rapid-fire tool calls detected", rapidCount),
			Recommendation: RecommendWarn,
		}
	}

	return Result{}
}

// checkFailures flags sessions where most recent calls failed,
// a typical enumeration signature. Needs at least five calls.
func (d *Detector) checkFailures(history []CallRecord) Result {
	if len(history) < 5 {
		return Result{}
	}

	failed := 0
	for _, r := range history {
		if !r.Success {
			failed++
		}
	}
	failedPercent := float64(failed) / float64(len(history))

	if failedPercent > maxFailedCallsPercent {
		return Result{
			Detected:       true,
			Confidence:     0.75,
			Type:           MisuseEnumerationAttack,
			Severity:       SeverityHigh,
			Details:        fmt.Sprintf("%.0f%% of recent calls failed", failedPercent*100),
			Recommendation: RecommendBlock,
		}
	}

	return Result{}
}

// checkEnumeration flags sessions touching too many distinct
// enterprises. This is the only check that recommends terminate.
func (d *Detector) checkEnumeration(history []CallRecord) Result {
	enterprises := make(map[string]bool)
	for _, r := range history {
		enterprises[r.EnterpriseID] = true
	}

	if len(enterprises) > maxUniqueEnterpriseIDs {
		return Result{
			Detected:       true,
			Confidence:     0.9,
			Type:           MisuseEnumerationAttack,
			Severity:       SeverityCritical,
			Details:        fmt.Sprintf("Access attempts to %d different enterprises", len(enterprises)),
			Recommendation: RecommendTerminate,
		}
	}

	return Result{}
}

func recommendFor(s Severity) Recommendation {
	if s == SeverityCritical {
		return RecommendBlock
	}
	return RecommendWarn
}

// containsSequence reports whether pattern appears contiguously in recent.
func containsSequence(recent, pattern []string) bool {
	if len(recent) < len(pattern) {
		return false
	}
	for i := 0; i <= len(recent)-len(pattern); i++ {
		match := true
		for j := range pattern {
			if recent[i+j] != pattern[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// longestSameToolRun returns the longest run of identical consecutive tools.
func longestSameToolRun(tools []string) int {
	if len(tools) == 0 {
		return 0
	}
	maxRun, run := 1, 1
	for i := 1; i < len(tools); i++ {
		if tools[i] == tools[i-1] {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 1
		}
	}
	return maxRun
}
