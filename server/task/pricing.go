// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import "strings"

// ModelPrice is the USD price per million tokens of one model.
type ModelPrice struct {
	Input     float64
	Output    float64
	CacheRead float64
}

// PricingTable maps "provider/model-prefix" to a price. The longest
// matching prefix wins.
type PricingTable map[string]ModelPrice

// DefaultPricing returns the built-in price list.
func DefaultPricing() PricingTable {
	return PricingTable{
		"anthropic/claude-opus-4":    {Input: 15, Output: 75, CacheRead: 1.5},
		"anthropic/claude-sonnet-4":  {Input: 3, Output: 15, CacheRead: 0.3},
		"anthropic/claude-3-5-haiku": {Input: 0.8, Output: 4, CacheRead: 0.08},
		"anthropic/claude-haiku-4":   {Input: 1, Output: 5, CacheRead: 0.1},
		"openai/gpt-4o-mini":         {Input: 0.15, Output: 0.6, CacheRead: 0.075},
		"openai/gpt-4o":              {Input: 2.5, Output: 10, CacheRead: 1.25},
		"openai/gpt-4.1-mini":        {Input: 0.4, Output: 1.6, CacheRead: 0.1},
		"openai/gpt-4.1":             {Input: 2, Output: 8, CacheRead: 0.5},
		"gemini/gemini-2.5-flash":    {Input: 0.3, Output: 2.5, CacheRead: 0.075},
		"gemini/gemini-2.5-pro":      {Input: 1.25, Output: 10, CacheRead: 0.31},
		"gemini/gemini-2.0-flash":    {Input: 0.1, Output: 0.4, CacheRead: 0.025},
	}
}

// Lookup returns the price of model on provider.
func (p PricingTable) Lookup(provider, model string) (ModelPrice, bool) {
	key := provider + "/" + model
	var (
		best    ModelPrice
		bestLen int
	)
	for prefix, price := range p {
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			best, bestLen = price, len(prefix)
		}
	}
	return best, bestLen > 0
}

// CostMicros returns the cost of a request in millionths of a USD. Cache
// reads are billed at the cache rate instead of the input rate.
func (p PricingTable) CostMicros(provider, model string, inputTokens, outputTokens, cacheReadTokens int) int64 {
	price, ok := p.Lookup(provider, model)
	if !ok {
		return 0
	}
	uncached := inputTokens - cacheReadTokens
	if uncached < 0 {
		uncached = 0
	}
	// Prices are per million tokens, so tokens*price is already in micro-USD.
	usd := float64(uncached)*price.Input + float64(outputTokens)*price.Output + float64(cacheReadTokens)*price.CacheRead
	return int64(usd + 0.5)
}
