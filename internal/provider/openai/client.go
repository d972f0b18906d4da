// Package openai implements the gateway.Provider adapter for the OpenAI
// chat-completions wire dialect. Because so many hosts speak this dialect,
// the same adapter serves Azure OpenAI, OpenRouter, Together, Fireworks,
// Groq, Mistral, and HuggingFace endpoints; only the base URL, auth
// transport, and hosting quirks differ.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

var _ gateway.Provider = (*Client)(nil)

// Client is an OpenAI-dialect provider adapter.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	costs   provider.Costs
	dialect gateway.Dialect
	hosting string // "", "azure"
}

// New creates a Client for direct API access. name is the instance
// identifier; baseURL configures the upstream and defaults to the OpenAI
// API. The provided client should have auth configured via its transport
// chain.
func New(name, baseURL string, client *http.Client, costs provider.Costs) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		costs:   costs,
		dialect: gateway.DialectOpenAIChat,
	}
}

// NewWithHosting creates a Client for a specific hosting platform. The
// hosting value adjusts dialect reporting and health-check behavior; the
// wire format is unchanged.
func NewWithHosting(name, baseURL string, client *http.Client, costs provider.Costs, hosting string) *Client {
	c := New(name, baseURL, client, costs)
	c.hosting = hosting
	switch hosting {
	case "azure":
		c.dialect = gateway.DialectAzureOpenAI
	case "openrouter":
		c.dialect = gateway.DialectOpenRouter
	case "together":
		c.dialect = gateway.DialectTogether
	case "fireworks":
		c.dialect = gateway.DialectFireworks
	case "groq":
		c.dialect = gateway.DialectGroq
	case "mistral":
		c.dialect = gateway.DialectMistral
	case "huggingface":
		c.dialect = gateway.DialectHuggingFace
	}
	return c
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Dialect returns the wire protocol identifier.
func (c *Client) Dialect() gateway.Dialect { return c.dialect }

// Invoke sends a non-streaming chat completion request.
func (c *Client) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	body, err := json.Marshal(encodeRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: decode response: %w", c.name, err))
	}
	return decodeResponse(c.name, req.Model, &out, c.costs), nil
}

// Stream sends a streaming chat completion request. Raw SSE payloads are
// decoded into normalized chunks as they arrive; the terminal chunk carries
// the finish reason and final usage.
func (c *Client) Stream(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error) {
	body, err := json.Marshal(encodeRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(c.name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go readStream(ctx, c.name, resp, ch)
	return ch, nil
}

// Embed sends an embeddings request.
func (c *Client) Embed(ctx context.Context, req *gateway.EmbedRequest) (*gateway.EmbedResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model": req.Model,
		"input": req.Inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Model string    `json:"model"`
		Usage wireUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: decode response: %w", c.name, err))
	}

	vectors := make([][]float64, len(out.Data))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return &gateway.EmbedResponse{
		Model:   out.Model,
		Vectors: vectors,
		Usage:   gateway.Usage{PromptTokens: out.Usage.PromptTokens, TotalTokens: out.Usage.TotalTokens},
	}, nil
}

// Health verifies connectivity. Azure deployment URLs have no GET /models,
// so reachability is probed with a HEAD request instead.
func (c *Client) Health(ctx context.Context) error {
	if c.hosting == "azure" {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
		if err != nil {
			return fmt.Errorf("%s: create health request: %w", c.name, err)
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return gateway.Wrap(gateway.KindProviderUnavailable, err)
		}
		resp.Body.Close()
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("%s: create health request: %w", c.name, err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.Wrap(gateway.KindProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return provider.ParseAPIError(c.name, resp)
	}
	return nil
}

// EstimateCost predicts the USD cost of serving req.
func (c *Client) EstimateCost(req *gateway.Request) float64 { return c.costs.Estimate(req) }

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransportErr(c.name, err)
	}
	return resp, nil
}
