// Package cohere implements the gateway.Provider adapter for the Cohere v2
// API. Cohere is the only backend with a rerank endpoint, so this client
// additionally implements gateway.Reranker.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

const defaultBaseURL = "https://api.cohere.com"

var (
	_ gateway.Provider = (*Client)(nil)
	_ gateway.Reranker = (*Client)(nil)
)

// Client is a Cohere provider adapter.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	costs   provider.Costs
}

// New creates a Cohere Client. Auth should be configured as a Bearer
// transport on the provided http client.
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

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Dialect returns the wire protocol identifier.
func (c *Client) Dialect() gateway.Dialect { return gateway.DialectCohereChat }

// Invoke sends a non-streaming v2 chat request.
func (c *Client) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	body, err := json.Marshal(encodeRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/v2/chat", body)
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

// Stream sends a streaming v2 chat request.
func (c *Client) Stream(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error) {
	body, err := json.Marshal(encodeRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/v2/chat", body)
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

// Embed sends a v2 embed request.
func (c *Client) Embed(ctx context.Context, req *gateway.EmbedRequest) (*gateway.EmbedResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model":           req.Model,
		"texts":           req.Inputs,
		"input_type":      "search_document",
		"embedding_types": []string{"float"},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/v2/embed", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out struct {
		Embeddings struct {
			Float [][]float64 `json:"float"`
		} `json:"embeddings"`
		Meta struct {
			BilledUnits struct {
				InputTokens int `json:"input_tokens"`
			} `json:"billed_units"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: decode response: %w", c.name, err))
	}
	return &gateway.EmbedResponse{
		Model:   req.Model,
		Vectors: out.Embeddings.Float,
		Usage: gateway.Usage{
			PromptTokens: out.Meta.BilledUnits.InputTokens,
			TotalTokens:  out.Meta.BilledUnits.InputTokens,
		},
	}, nil
}

// Rerank scores docs against query, best first.
func (c *Client) Rerank(ctx context.Context, model, query string, docs []string) ([]gateway.ScoredDoc, error) {
	body, err := json.Marshal(map[string]any{
		"model":     model,
		"query":     query,
		"documents": docs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, "/v2/rerank", body)
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

	var out []gateway.ScoredDoc
	gjson.GetBytes(raw, "results").ForEach(func(_, r gjson.Result) bool {
		idx := int(r.Get("index").Int())
		doc := gateway.ScoredDoc{Index: idx, Score: r.Get("relevance_score").Float()}
		if idx >= 0 && idx < len(docs) {
			doc.Text = docs[idx]
		}
		out = append(out, doc)
		return true
	})
	return out, nil
}

// Health verifies connectivity against the models listing endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
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
