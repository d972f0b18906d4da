package provider

import (
	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/tokencount"
)

// Costs holds a provider's declared pricing per 1M tokens, USD.
type Costs struct {
	InPerM  float64
	OutPerM float64
}

// defaultCompletionEstimate is assumed when the request sets no MaxTokens.
const defaultCompletionEstimate = 256

var counter = tokencount.NewCounter()

// Estimate predicts the USD cost of serving req at these rates: estimated
// prompt tokens at the input rate plus MaxTokens (or a default completion
// estimate) at the output rate.
func (c Costs) Estimate(req *gateway.Request) float64 {
	in := counter.EstimateRequest(req)
	out := req.MaxTokens
	if out <= 0 {
		out = defaultCompletionEstimate
	}
	return float64(in)/1e6*c.InPerM + float64(out)/1e6*c.OutPerM
}

// Actual computes the realized USD cost from final usage.
func (c Costs) Actual(u gateway.Usage) float64 {
	return float64(u.PromptTokens)/1e6*c.InPerM + float64(u.CompletionTokens)/1e6*c.OutPerM
}
