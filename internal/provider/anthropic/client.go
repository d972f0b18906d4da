// Package anthropic implements the gateway.Provider adapter for the
// Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	bedrockVersion = "bedrock-2023-05-31"
)

var _ gateway.Provider = (*Client)(nil)

// Client is an Anthropic provider adapter. It serves both the direct API
// and Anthropic models hosted on AWS Bedrock, which speak the same Messages
// dialect behind SigV4 auth and binary event-stream framing.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	costs   provider.Costs
	hosting string // "", "bedrock"
}

// New creates an Anthropic Client for direct API access. The provided http
// client should inject the x-api-key header via its transport chain.
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

// NewBedrock creates a Client for Anthropic models on AWS Bedrock. The
// provided http client must sign requests with SigV4 for the
// bedrock-runtime service in the given region.
func NewBedrock(name, region string, client *http.Client, costs provider.Costs) *Client {
	c := New(name, "https://bedrock-runtime."+region+".amazonaws.com", client, costs)
	c.hosting = "bedrock"
	return c
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Dialect returns the wire protocol identifier.
func (c *Client) Dialect() gateway.Dialect {
	if c.hosting == "bedrock" {
		return gateway.DialectBedrockInvoke
	}
	return gateway.DialectAnthropicMessages
}

// Invoke sends a non-streaming messages request.
func (c *Client) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	wire, err := encodeRequest(req, false)
	if err != nil {
		return nil, err
	}
	body, err := c.marshalForHosting(wire)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, c.invokePath(req.Model, false), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.Wrap(gateway.KindProtocolError, fmt.Errorf("%s: read response: %w", c.name, err))
	}
	out := decodeResponse(c.name, req.Model, raw, c.costs)
	if wire.repaired {
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		out.Metadata["conversationRepaired"] = "true"
	}
	return out, nil
}

// Stream sends a streaming messages request and decodes the Anthropic event
// stream into normalized chunks.
func (c *Client) Stream(ctx context.Context, req *gateway.Request) (<-chan gateway.StreamChunk, error) {
	wire, err := encodeRequest(req, c.hosting != "bedrock")
	if err != nil {
		return nil, err
	}
	body, err := c.marshalForHosting(wire)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	resp, err := c.post(ctx, c.invokePath(req.Model, true), body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(c.name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	if c.hosting == "bedrock" {
		go readBedrockStream(ctx, c.name, resp.Body, ch)
	} else {
		go readStream(ctx, c.name, resp.Body, ch)
	}
	return ch, nil
}

// Embed is unsupported: Anthropic has no embeddings endpoint.
func (c *Client) Embed(context.Context, *gateway.EmbedRequest) (*gateway.EmbedResponse, error) {
	return nil, gateway.E(gateway.KindInvalidRequest, "%s: embeddings not supported", c.name)
}

// Health verifies connectivity. The direct API is probed via the models
// listing; bedrock-runtime has no such endpoint, so reachability is checked
// with a HEAD request.
func (c *Client) Health(ctx context.Context) error {
	if c.hosting == "bedrock" {
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
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("%s: create health request: %w", c.name, err)
	}
	httpReq.Header.Set("anthropic-version", apiVersion)
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

// invokePath returns the request path for the hosting mode. Bedrock routes
// the model through the URL instead of the body.
func (c *Client) invokePath(model string, stream bool) string {
	if c.hosting == "bedrock" {
		if stream {
			return "/model/" + url.PathEscape(model) + "/invoke-with-response-stream"
		}
		return "/model/" + url.PathEscape(model) + "/invoke"
	}
	return "/v1/messages"
}

// marshalForHosting serializes the wire request. Bedrock pins the dialect
// with anthropic_version in the body and rejects top-level model and stream
// fields.
func (c *Client) marshalForHosting(wire *wireRequest) ([]byte, error) {
	if c.hosting != "bedrock" {
		return json.Marshal(wire)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "model")
	delete(m, "stream")
	m["anthropic_version"] = json.RawMessage(`"` + bedrockVersion + `"`)
	return json.Marshal(m)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.hosting != "bedrock" {
		httpReq.Header.Set("anthropic-version", apiVersion)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransportErr(c.name, err)
	}
	return resp, nil
}
