// Package local implements the gateway.Provider adapter for a local gguf
// model runner speaking the ollama-compatible API. Models can be loaded and
// unloaded at runtime, so this client additionally implements
// gateway.ModelLoader. Function calling is synthesized: the runner has no
// native tool support.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/dnscache"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

const defaultBaseURL = "http://localhost:11434"

var (
	_ gateway.Provider    = (*Client)(nil)
	_ gateway.ModelLoader = (*Client)(nil)
)

// Client is a local gguf runner adapter.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
}

// New creates a Client with a tuned HTTP/1.1 client; the local runner does
// not speak h2c. If baseURL is empty, it defaults to localhost:11434.
func New(name, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: provider.NewTransport(resolver, false)},
	}
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Dialect returns the wire protocol identifier.
func (c *Client) Dialect() gateway.Dialect { return gateway.DialectGGUFLocal }

// Invoke sends a non-streaming chat request. Tool and JSON-mode requests
// are rewritten through the synthesis shim first.
func (c *Client) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	shimmed := provider.SynthesizeTools(req)
	wantTools := len(req.Tools) > 0

	body, err := json.Marshal(encodeRequest(shimmed, false))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/api/chat", body)
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
	normalized := decodeResponse(c.name, req.Model, &out)

	if wantTools {
		if tc := provider.ParseSynthesizedToolCall(normalized.Text); tc != nil {
			normalized.ToolCalls = []gateway.ToolCall{*tc}
			normalized.FinishReason = gateway.FinishToolCall
			normalized.Text = ""
		}
	}
	return normalized, nil
}

// Stream sends a streaming chat request. The runner streams NDJSON rather
// than SSE; each line is one fragment and the final line carries done=true
// with eval counts.
func (c *Client) Stream(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error) {
	shimmed := provider.SynthesizeTools(req)

	body, err := json.Marshal(encodeRequest(shimmed, true))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(c.name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go readNDJSONStream(ctx, c.name, resp.Body, ch)
	return ch, nil
}

// Embed sends an embed request.
func (c *Client) Embed(ctx context.Context, req *gateway.EmbedRequest) (*gateway.EmbedResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model": req.Model,
		"input": req.Inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/api/embed", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out struct {
		Model      string      `json:"model"`
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: decode response: %w", c.name, err))
	}
	return &gateway.EmbedResponse{Model: out.Model, Vectors: out.Embeddings}, nil
}

// LoadModel pulls model weights and warms them into memory. Pulling a large
// gguf can take minutes; the caller's context bounds the wait.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	body, _ := json.Marshal(map[string]any{"model": model, "stream": false})
	resp, err := c.post(ctx, "/api/pull", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gateway.E(gateway.KindProviderUnavailable, "%s: pull %s: HTTP %d", c.name, model, resp.StatusCode)
	}

	// Warm the model with an empty generate and a long keep-alive.
	body, _ = json.Marshal(map[string]any{"model": model, "keep_alive": "30m"})
	resp, err = c.post(ctx, "/api/generate", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gateway.E(gateway.KindProviderUnavailable, "%s: warm %s: HTTP %d", c.name, model, resp.StatusCode)
	}
	return nil
}

// UnloadModel evicts model weights from memory via a zero keep-alive.
func (c *Client) UnloadModel(ctx context.Context, model string) error {
	body, _ := json.Marshal(map[string]any{"model": model, "keep_alive": 0})
	resp, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gateway.E(gateway.KindProviderUnavailable, "%s: unload %s: HTTP %d", c.name, model, resp.StatusCode)
	}
	return nil
}

// Health verifies the runner is reachable.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
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

// EstimateCost reports zero: local inference has no per-token billing.
func (c *Client) EstimateCost(*gateway.Request) float64 { return 0 }

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
