// Package tokencount provides token estimation for routing, rate limiting,
// and cost prediction. Uses a character-based heuristic (~4 chars per token
// for English) which is sufficient for those purposes. Can be replaced with
// tiktoken for exact counts if needed.
package tokencount

import (
	gateway "github.com/llmrouter/gateway/internal"
)

// Counter estimates token counts for requests and text.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest estimates the prompt token count for an inference request,
// accounting for per-message overhead (role, formatting) and tool schemas.
func (c *Counter) EstimateRequest(req *gateway.Request) int {
	total := 0
	for _, m := range req.ChatMessages() {
		total += 4 // per-message framing overhead
		total += estimateTokens(m.Role)
		total += estimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += estimateTokens(tc.Name) + estimateTokens(tc.Arguments)
		}
		if m.ToolCallID != "" {
			total += estimateTokens(m.ToolCallID)
		}
	}
	for _, tool := range req.Tools {
		total += estimateTokens(tool.Name) + estimateTokens(tool.Description)
		total += estimateTokens(string(tool.Parameters))
	}
	total += 3 // reply priming
	return max(total, 1)
}

// CountText estimates tokens for a plain text string.
func (c *Counter) CountText(text string) int {
	return max(estimateTokens(text), 1)
}

// estimateTokens uses the ~4 characters per token heuristic. This is a
// reasonable approximation for English text with GPT-family tokenizers.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
