// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ModelPricing holds per-1K-token prices in USD.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Pricing maps provider -> model -> pricing. A "*" model entry is the
// fallback for unlisted models of that provider. Safe for concurrent use.
type Pricing struct {
	mu        sync.RWMutex
	providers map[string]map[string]ModelPricing
}

// DefaultPricing returns the built-in pricing table.
func DefaultPricing() *Pricing {
	return &Pricing{
		providers: map[string]map[string]ModelPricing{
			"anthropic": {
				"claude-3-opus-20240229":   {InputPer1K: 0.015, OutputPer1K: 0.075},
				"claude-3-sonnet-20240229": {InputPer1K: 0.003, OutputPer1K: 0.015},
				"claude-3-haiku-20240307":  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
				"claude-3-5-sonnet":        {InputPer1K: 0.003, OutputPer1K: 0.015},
				"*":                        {InputPer1K: 0.003, OutputPer1K: 0.015},
			},
			"openai": {
				"gpt-4":         {InputPer1K: 0.03, OutputPer1K: 0.06},
				"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
				"gpt-4o":        {InputPer1K: 0.005, OutputPer1K: 0.015},
				"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
				"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
				"*":             {InputPer1K: 0.01, OutputPer1K: 0.03},
			},
			"google": {
				"gemini-1.5-pro":   {InputPer1K: 0.0035, OutputPer1K: 0.0105},
				"gemini-1.5-flash": {InputPer1K: 0.00035, OutputPer1K: 0.00105},
				"*":                {InputPer1K: 0.0035, OutputPer1K: 0.0105},
			},
			"azure": {
				"*": {InputPer1K: 0.01, OutputPer1K: 0.03},
			},
			"bedrock": {
				"*": {InputPer1K: 0.003, OutputPer1K: 0.015},
			},
			"mistral": {
				"mistral-large": {InputPer1K: 0.004, OutputPer1K: 0.012},
				"*":             {InputPer1K: 0.002, OutputPer1K: 0.006},
			},
			"cohere": {
				"*": {InputPer1K: 0.0015, OutputPer1K: 0.002},
			},
			// Self-hosted runtimes have no per-token cost.
			"ollama": {
				"*": {InputPer1K: 0, OutputPer1K: 0},
			},
			"local": {
				"*": {InputPer1K: 0, OutputPer1K: 0},
			},
		},
	}
}

// Lookup returns the pricing for a provider/model pair. Provider matching
// is case-insensitive; unlisted models fall back to the provider's "*"
// entry. Unknown providers return ok=false.
func (p *Pricing) Lookup(provider, model string) (ModelPricing, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models, ok := p.providers[strings.ToLower(provider)]
	if !ok {
		return ModelPricing{}, false
	}
	if pricing, ok := models[model]; ok {
		return pricing, true
	}
	if pricing, ok := models[strings.ToLower(model)]; ok {
		return pricing, true
	}
	pricing, ok := models["*"]
	return pricing, ok
}

// EstimateCost computes the USD cost of a request from its token counts.
// Unknown providers cost 0 so a missing pricing entry never blocks.
func (p *Pricing) EstimateCost(provider, model string, inputTokens, outputTokens int) float64 {
	pricing, ok := p.Lookup(provider, model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*pricing.InputPer1K +
		float64(outputTokens)/1000*pricing.OutputPer1K
}

// Merge layers custom provider tables over the current ones. Custom
// models are added per provider; existing models are overridden.
func (p *Pricing) Merge(custom map[string]map[string]ModelPricing) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for provider, models := range custom {
		key := strings.ToLower(provider)
		if _, ok := p.providers[key]; !ok {
			p.providers[key] = make(map[string]ModelPricing)
		}
		for model, pricing := range models {
			p.providers[key][model] = pricing
		}
	}
}

// LoadPricingFromFile loads a JSON pricing table and merges it over the
// defaults. The file maps provider -> model -> {input_per_1k, output_per_1k}.
func LoadPricingFromFile(path string) (*Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}

	var custom map[string]map[string]ModelPricing
	if err := json.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("parse pricing config: %w", err)
	}

	p := DefaultPricing()
	p.Merge(custom)
	return p, nil
}

// LoadPricingFromEnv loads pricing from the file named by
// GOVERNANCE_PRICING_CONFIG, or the defaults when unset.
func LoadPricingFromEnv() (*Pricing, error) {
	path := os.Getenv("GOVERNANCE_PRICING_CONFIG")
	if path == "" {
		return DefaultPricing(), nil
	}
	return LoadPricingFromFile(path)
}
