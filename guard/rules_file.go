// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package guard

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule file validation constants
const (
	// MaxPatternLength is the maximum allowed length for a rule pattern.
	MaxPatternLength = 1000

	// MaxCaptureGroups is the maximum number of capture groups allowed.
	MaxCaptureGroups = 10
)

// Rule file validation errors
var (
	ErrPatternEmpty         = errors.New("pattern cannot be empty")
	ErrPatternTooLong       = errors.New("pattern exceeds maximum length")
	ErrPatternTooManyGroups = errors.New("pattern has too many capture groups")
	ErrPatternInvalidSyntax = errors.New("pattern has invalid RE2 syntax")
	ErrRuleSetEmpty         = errors.New("rule file contains no rules")
)

// ruleFile is the YAML document shape for custom rule catalogs.
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name        string  `yaml:"name"`
	Category    string  `yaml:"category"`
	Pattern     string  `yaml:"pattern"`
	Confidence  float64 `yaml:"confidence"`
	Risk        string  `yaml:"risk"`
	Description string  `yaml:"description"`
}

// LoadRuleSet reads a custom rule catalog from a YAML file.
// Rule order in the file is preserved as evaluation order. Every pattern
// is validated against RE2 safety limits before compilation.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	if len(file.Rules) == 0 {
		return nil, ErrRuleSetEmpty
	}

	rules := make([]*Rule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := entry.compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, entry.Name, err)
		}
		rules = append(rules, rule)
	}

	return NewRuleSetFromRules(rules), nil
}

func (e ruleEntry) compile() (*Rule, error) {
	if e.Name == "" {
		return nil, errors.New("rule name cannot be empty")
	}

	regex, err := compilePatternSafe(e.Pattern)
	if err != nil {
		return nil, err
	}

	risk, err := ParseRiskLevel(e.Risk)
	if err != nil {
		return nil, err
	}

	confidence := e.Confidence
	if confidence <= 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %.2f out of range (0, 1]", confidence)
	}

	return &Rule{
		Name:        e.Name,
		Category:    Category(e.Category),
		Regex:       regex,
		Confidence:  confidence,
		Risk:        risk,
		Description: e.Description,
	}, nil
}

// compilePatternSafe compiles a pattern with RE2 safety checks.
// Go's regexp is guaranteed linear time, but length and capture group
// limits keep operator-supplied catalogs from degrading scan latency.
func compilePatternSafe(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, ErrPatternEmpty
	}

	if len(pattern) > MaxPatternLength {
		return nil, ErrPatternTooLong
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatternInvalidSyntax, err)
	}

	if re.NumSubexp() > MaxCaptureGroups {
		return nil, ErrPatternTooManyGroups
	}

	return re, nil
}
