package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	gateway "github.com/llmrouter/gateway/internal"
)

// looseRequest accepts the field aliases seen in the wild alongside the
// canonical names: "input" for prompt, snake_case sampling knobs, and the
// OpenAI-style nested shapes for tools and response_format.
type looseRequest struct {
	gateway.Request

	Input          string          `json:"input"`
	MaxTokensSnake int             `json:"max_tokens"`
	Temperature    *float64        `json:"temperature"`
	TopPSnake      *float64        `json:"top_p"`
	TopKSnake      *int            `json:"top_k"`
	Stop           []string        `json:"stop"`
	ResponseFmt    json.RawMessage `json:"response_format"`
}

// StandardizeRequest decodes body into the normalized request shape,
// folding accepted aliases into their canonical fields.
func StandardizeRequest(body []byte) (*gateway.Request, error) {
	var loose looseRequest
	if err := json.Unmarshal(body, &loose); err != nil {
		return nil, gateway.E(gateway.KindInvalidRequest, "malformed request body: %v", err)
	}
	req := loose.Request

	if req.Prompt == "" {
		req.Prompt = loose.Input
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = loose.MaxTokensSnake
	}
	if req.Sampling.Temperature == nil {
		req.Sampling.Temperature = loose.Temperature
	}
	if req.Sampling.TopP == nil {
		req.Sampling.TopP = loose.TopPSnake
	}
	if req.Sampling.TopK == nil {
		req.Sampling.TopK = loose.TopKSnake
	}
	if len(req.Sampling.StopSequences) == 0 {
		req.Sampling.StopSequences = loose.Stop
	}
	if req.ResponseFormat == "" && len(loose.ResponseFmt) > 0 {
		req.ResponseFormat = decodeResponseFormat(loose.ResponseFmt)
	}

	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// decodeResponseFormat accepts both the flat string form and the OpenAI
// object form {"type": "json_object"}.
func decodeResponseFormat(raw json.RawMessage) gateway.ResponseFormat {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return gateway.ResponseFormat(s)
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return gateway.ResponseFormat(obj.Type)
	}
	return ""
}

func validateRequest(req *gateway.Request) error {
	if req.Prompt == "" && len(req.Messages) == 0 {
		return gateway.E(gateway.KindInvalidRequest, "request needs a prompt or messages")
	}
	if req.MaxTokens < 0 {
		return gateway.E(gateway.KindInvalidRequest, "maxTokens must be non-negative")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem, gateway.RoleUser, gateway.RoleAssistant, gateway.RoleTool:
		default:
			return gateway.E(gateway.KindInvalidRequest, "messages[%d]: unknown role %q", i, m.Role)
		}
	}
	switch req.ResponseFormat {
	case "", gateway.FormatText, gateway.FormatJSONObject:
	default:
		return gateway.E(gateway.KindInvalidRequest, "unknown responseFormat %q", req.ResponseFormat)
	}
	for i, tool := range req.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return gateway.E(gateway.KindToolValidation, "tools[%d]: name is required", i)
		}
		if len(tool.Parameters) > 0 && !json.Valid(tool.Parameters) {
			return gateway.E(gateway.KindToolValidation, "tools[%d]: parameters is not valid JSON", i)
		}
	}
	return nil
}

// StandardizeResponse fills derived response fields after dispatch: echoed
// request metadata, the request id, processing time, and a computed usage
// total when the provider omitted one. The caller's metadata map is copied,
// never written through.
func StandardizeResponse(resp *gateway.Response, requestID string, meta map[string]string) *gateway.Response {
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	if resp.Metadata == nil {
		if len(meta) == 0 && requestID == "" && resp.LatencyMs == 0 {
			return resp
		}
		resp.Metadata = make(map[string]string, len(meta)+2)
	}
	for k, v := range meta {
		if _, ok := resp.Metadata[k]; !ok {
			resp.Metadata[k] = v
		}
	}
	if requestID != "" {
		resp.Metadata["requestId"] = requestID
	}
	if resp.LatencyMs > 0 {
		resp.Metadata["processingTimeMs"] = strconv.FormatInt(resp.LatencyMs, 10)
	}
	return resp
}
