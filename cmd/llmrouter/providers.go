package main

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/dnscache"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/cloudauth"
	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/provider/anthropic"
	"github.com/llmrouter/gateway/internal/provider/cohere"
	"github.com/llmrouter/gateway/internal/provider/gemini"
	"github.com/llmrouter/gateway/internal/provider/local"
	"github.com/llmrouter/gateway/internal/provider/openai"
)

// buildCatalog translates the config provider entries into registry records.
func buildCatalog(cfg *config.Config) ([]*gateway.ProviderInfo, []*gateway.ModelInfo) {
	var (
		providers []*gateway.ProviderInfo
		models    []*gateway.ModelInfo
	)
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			continue
		}
		caps := capsFor(p.ResolvedType())
		providers = append(providers, &gateway.ProviderInfo{
			ID:           p.Name,
			BaseURL:      p.BaseURL,
			Dialect:      dialectFor(p),
			Auth:         authSchemeFor(p),
			Capabilities: caps,
			CostInPerM:   p.CostInPM,
			CostOutPerM:  p.CostOutPM,
			RateBudget:   p.Budget,
			MaxInflight:  p.Inflight,
			Models:       p.Models,
			Region:       p.Region,
		})
		for _, m := range p.Models {
			window := p.Window
			if window == 0 {
				window = 8192
			}
			models = append(models, &gateway.ModelInfo{
				ID:            m,
				ProviderID:    p.Name,
				ContextWindow: window,
				Capabilities:  caps,
				Quality:       p.Quality,
			})
		}
	}
	return providers, models
}

func capsFor(typ string) gateway.Capability {
	switch typ {
	case "anthropic":
		return gateway.CapText | gateway.CapChat | gateway.CapStreaming | gateway.CapFunctionCalling | gateway.CapVision
	case "gemini":
		return gateway.CapText | gateway.CapChat | gateway.CapStreaming | gateway.CapEmbeddings | gateway.CapFunctionCalling | gateway.CapVision
	case "cohere":
		return gateway.CapText | gateway.CapChat | gateway.CapStreaming | gateway.CapEmbeddings | gateway.CapFunctionCalling | gateway.CapRerank
	case "local":
		// Tool use is synthesized through prompt scaffolding for gguf hosts.
		return gateway.CapText | gateway.CapChat | gateway.CapStreaming | gateway.CapEmbeddings | gateway.CapFunctionCalling
	default: // openai and compatible hosts
		return gateway.CapText | gateway.CapChat | gateway.CapStreaming | gateway.CapEmbeddings | gateway.CapFunctionCalling
	}
}

func dialectFor(p config.ProviderEntry) gateway.Dialect {
	switch p.ResolvedType() {
	case "anthropic":
		if p.Hosting == "bedrock" {
			return gateway.DialectBedrockInvoke
		}
		return gateway.DialectAnthropicMessages
	case "gemini":
		if p.Hosting == "vertex" {
			return gateway.DialectVertexPredict
		}
		return gateway.DialectOpenAIChat
	case "cohere":
		return gateway.DialectCohereChat
	case "local":
		return gateway.DialectGGUFLocal
	}
	switch p.Hosting {
	case "azure":
		return gateway.DialectAzureOpenAI
	case "openrouter":
		return gateway.DialectOpenRouter
	case "together":
		return gateway.DialectTogether
	case "fireworks":
		return gateway.DialectFireworks
	case "groq":
		return gateway.DialectGroq
	case "mistral":
		return gateway.DialectMistral
	case "huggingface":
		return gateway.DialectHuggingFace
	}
	return gateway.DialectOpenAIChat
}

func authSchemeFor(p config.ProviderEntry) gateway.AuthScheme {
	switch {
	case p.Hosting == "bedrock":
		return gateway.AuthSigV4
	case p.Hosting == "vertex":
		return gateway.AuthServiceAccount
	case p.ResolvedType() == "anthropic", p.ResolvedType() == "gemini", p.Hosting == "azure":
		return gateway.AuthAPIKeyHeader
	}
	return gateway.AuthBearer
}

// buildAdapter constructs the wire adapter for one provider entry. Upstream
// credentials ride in the HTTP client's transport chain so the adapters
// themselves stay credential-free.
func buildAdapter(ctx context.Context, p config.ProviderEntry, resolver *dnscache.Resolver) (gateway.Provider, error) {
	costs := provider.Costs{InPerM: p.CostInPM, OutPerM: p.CostOutPM}
	base := provider.NewTransport(resolver, true)

	switch p.ResolvedType() {
	case "openai", "":
		switch p.Hosting {
		case "":
			client := &http.Client{Transport: cloudauth.Bearer(p.APIKey, base)}
			return openai.New(p.Name, p.BaseURL, client, costs), nil
		case "azure":
			client := &http.Client{Transport: cloudauth.Header("api-key", p.APIKey, base)}
			return openai.NewWithHosting(p.Name, p.BaseURL, client, costs, p.Hosting), nil
		default:
			client := &http.Client{Transport: cloudauth.Bearer(p.APIKey, base)}
			return openai.NewWithHosting(p.Name, p.BaseURL, client, costs, p.Hosting), nil
		}

	case "anthropic":
		if p.Hosting == "bedrock" {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.Region))
			if err != nil {
				return nil, fmt.Errorf("provider %s: load AWS config: %w", p.Name, err)
			}
			signer := cloudauth.NewAWSSigV4Transport(base, awsCfg.Credentials, p.Region, "bedrock")
			return anthropic.NewBedrock(p.Name, p.Region, &http.Client{Transport: signer}, costs), nil
		}
		client := &http.Client{Transport: cloudauth.Header("x-api-key", p.APIKey, base)}
		return anthropic.New(p.Name, p.BaseURL, client, costs), nil

	case "gemini":
		if p.Hosting == "vertex" {
			tr, err := cloudauth.NewGCPOAuthTransport(ctx, base, "https://www.googleapis.com/auth/cloud-platform")
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", p.Name, err)
			}
			baseURL := p.BaseURL
			if baseURL == "" {
				baseURL = fmt.Sprintf(
					"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google",
					p.Region, p.Project, p.Region)
			}
			return gemini.NewVertex(p.Name, baseURL, &http.Client{Transport: tr}, costs), nil
		}
		client := &http.Client{Transport: cloudauth.Header("x-goog-api-key", p.APIKey, base)}
		return gemini.New(p.Name, p.BaseURL, client, costs), nil

	case "cohere":
		client := &http.Client{Transport: cloudauth.Bearer(p.APIKey, base)}
		return cohere.New(p.Name, p.BaseURL, client, costs), nil

	case "local":
		return local.New(p.Name, p.BaseURL, resolver), nil
	}
	return nil, fmt.Errorf("provider %s: unknown type %q", p.Name, p.ResolvedType())
}
