// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

// Usage is the token accounting reported by a model provider.
type Usage struct {
	InputTokens         int  `json:"inputTokens"`
	OutputTokens        int  `json:"outputTokens"`
	TotalTokens         int  `json:"totalTokens"`
	CacheHit            bool `json:"cacheHit,omitempty"`
	CacheReadTokens     int  `json:"cacheReadTokens,omitempty"`
	CacheCreationTokens int  `json:"cacheCreationTokens,omitempty"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.TotalTokens += u2.TotalTokens
	u.CacheHit = u.CacheHit || u2.CacheHit
	u.CacheReadTokens += u2.CacheReadTokens
	u.CacheCreationTokens += u2.CacheCreationTokens
}
