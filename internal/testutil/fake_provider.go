// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"

	gateway "github.com/llmrouter/gateway/internal"
)

// FakeProvider is a configurable gateway.Provider for testing.
type FakeProvider struct {
	ProviderName string
	WireDialect  gateway.Dialect
	InvokeFn     func(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
	StreamFn     func(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error)
	EmbedFn      func(ctx context.Context, req *gateway.EmbedRequest) (*gateway.EmbedResponse, error)
	HealthFn     func(ctx context.Context) error
	CostFn       func(req *gateway.Request) float64
}

// Name returns the configured provider name.
func (f *FakeProvider) Name() string { return f.ProviderName }

// Dialect returns the configured dialect, defaulting to openai_chat.
func (f *FakeProvider) Dialect() gateway.Dialect {
	if f.WireDialect != "" {
		return f.WireDialect
	}
	return gateway.DialectOpenAIChat
}

// Invoke delegates to InvokeFn or returns a canned response.
func (f *FakeProvider) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if f.InvokeFn != nil {
		return f.InvokeFn(ctx, req)
	}
	return &gateway.Response{
		Text:         "hello",
		Model:        f.ProviderName + ":" + req.Model,
		Provider:     f.ProviderName,
		Usage:        gateway.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason: gateway.FinishStop,
	}, nil
}

// Stream delegates to StreamFn or returns a two-chunk canned stream.
func (f *FakeProvider) Stream(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return FakeStream(
		gateway.StreamChunk{Delta: "hel"},
		gateway.StreamChunk{Delta: "lo"},
		gateway.StreamChunk{FinishReason: gateway.FinishStop, Usage: &gateway.Usage{TotalTokens: 15}},
	), nil
}

// Embed delegates to EmbedFn or returns a unit vector per input.
func (f *FakeProvider) Embed(ctx context.Context, req *gateway.EmbedRequest) (*gateway.EmbedResponse, error) {
	if f.EmbedFn != nil {
		return f.EmbedFn(ctx, req)
	}
	vecs := make([][]float64, len(req.Inputs))
	for i := range vecs {
		vecs[i] = []float64{1, 0, 0}
	}
	return &gateway.EmbedResponse{Model: req.Model, Vectors: vecs}, nil
}

// Health delegates to HealthFn or reports healthy.
func (f *FakeProvider) Health(ctx context.Context) error {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return nil
}

// EstimateCost delegates to CostFn or returns a small fixed cost.
func (f *FakeProvider) EstimateCost(req *gateway.Request) float64 {
	if f.CostFn != nil {
		return f.CostFn(req)
	}
	return 0.001
}

// FakeStream returns a closed channel pre-loaded with the given chunks.
func FakeStream(chunks ...gateway.StreamChunk) <-chan gateway.StreamChunk {
	ch := make(chan gateway.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}
