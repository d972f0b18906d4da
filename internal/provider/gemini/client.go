// Package gemini implements the gateway.Provider adapter for the Gemini
// generateContent API. The same wire shape serves both the public Gemini
// endpoint (x-goog-api-key auth) and Vertex AI (OAuth in the transport
// chain, project-scoped base URL).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var _ gateway.Provider = (*Client)(nil)

// Client is a Gemini provider adapter.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	costs   provider.Costs
	vertex  bool
}

// New creates a Gemini Client for the public API. Auth (x-goog-api-key)
// should be configured in the client's transport chain.
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
	}
}

// NewVertex creates a Client for a Vertex AI endpoint. baseURL must be the
// project/location-scoped publisher path; the client's transport chain must
// inject GCP OAuth credentials.
func NewVertex(name, baseURL string, client *http.Client, costs provider.Costs) *Client {
	c := New(name, baseURL, client, costs)
	c.vertex = true
	return c
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Dialect returns the wire protocol identifier.
func (c *Client) Dialect() gateway.Dialect {
	if c.vertex {
		return gateway.DialectVertexPredict
	}
	return gateway.DialectOpenAIChat
}

// Invoke sends a non-streaming generateContent request.
func (c *Client) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	body, err := json.Marshal(encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, fmt.Sprintf("/models/%s:generateContent", req.Model), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: read response: %w", c.name, err))
	}
	return decodeResponse(c.name, req.Model, raw, c.costs), nil
}

// Stream sends a streaming generateContent request using SSE framing.
func (c *Client) Stream(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error) {
	body, err := json.Marshal(encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", req.Model), body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(c.name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go readStream(ctx, c.name, resp.Body, ch)
	return ch, nil
}

// Embed sends a batch embedContents request.
func (c *Client) Embed(ctx context.Context, req *gateway.EmbedRequest) (*gateway.EmbedResponse, error) {
	type embedReq struct {
		Model   string `json:"model"`
		Content struct {
			Parts []map[string]string `json:"parts"`
		} `json:"content"`
	}
	batch := struct {
		Requests []embedReq `json:"requests"`
	}{}
	for _, in := range req.Inputs {
		var er embedReq
		er.Model = "models/" + req.Model
		er.Content.Parts = []map[string]string{{"text": in}}
		batch.Requests = append(batch.Requests, er)
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, fmt.Sprintf("/models/%s:batchEmbedContents", req.Model), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: decode response: %w", c.name, err))
	}
	vectors := make([][]float64, len(out.Embeddings))
	for i, e := range out.Embeddings {
		vectors[i] = e.Values
	}
	return &gateway.EmbedResponse{Model: req.Model, Vectors: vectors}, nil
}

// Health verifies connectivity against the models listing endpoint.
func (c *Client) Health(ctx context.Context) error {
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
