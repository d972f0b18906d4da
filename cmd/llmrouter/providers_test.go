package main

import (
	"testing"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/config"
)

func TestCapsForGrantsFunctionCalling(t *testing.T) {
	t.Parallel()
	for _, typ := range []string{"openai", "anthropic", "gemini", "cohere", "local"} {
		if !capsFor(typ).Has(gateway.CapFunctionCalling) {
			t.Errorf("capsFor(%s) lacks function calling", typ)
		}
	}
}

func TestCapsForVisionAndRerank(t *testing.T) {
	t.Parallel()
	if !capsFor("cohere").Has(gateway.CapRerank) {
		t.Error("cohere lacks rerank")
	}
	if capsFor("openai").Has(gateway.CapRerank) {
		t.Error("openai should not claim rerank")
	}
	if !capsFor("anthropic").Has(gateway.CapVision) {
		t.Error("anthropic lacks vision")
	}
}

func TestDialectForHosting(t *testing.T) {
	t.Parallel()
	cases := []struct {
		entry config.ProviderEntry
		want  gateway.Dialect
	}{
		{config.ProviderEntry{Type: "anthropic", Hosting: "bedrock"}, gateway.DialectBedrockInvoke},
		{config.ProviderEntry{Type: "anthropic"}, gateway.DialectAnthropicMessages},
		{config.ProviderEntry{Type: "gemini", Hosting: "vertex"}, gateway.DialectVertexPredict},
		{config.ProviderEntry{Type: "gemini"}, gateway.DialectOpenAIChat},
		{config.ProviderEntry{Type: "openai", Hosting: "azure"}, gateway.DialectAzureOpenAI},
		{config.ProviderEntry{Type: "openai"}, gateway.DialectOpenAIChat},
	}
	for _, tc := range cases {
		if got := dialectFor(tc.entry); got != tc.want {
			t.Errorf("dialectFor(%s/%s) = %s, want %s", tc.entry.Type, tc.entry.Hosting, got, tc.want)
		}
	}
}
