package gemini

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

// wireRequest is the generateContent request body.
type wireRequest struct {
	Contents          []wireContent `json:"contents"`
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
	Tools             []wireTool    `json:"tools,omitempty"`
	ToolConfig        any           `json:"toolConfig,omitempty"`
	GenerationConfig  *genConfig    `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string         `json:"text,omitempty"`
	FunctionCall     map[string]any `json:"functionCall,omitempty"`
	FunctionResponse map[string]any `json:"functionResponse,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []map[string]any `json:"functionDeclarations,omitempty"`
}

type genConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

// encodeRequest converts a normalized request to the generateContent shape.
// System turns become the systemInstruction; assistant maps to the "model"
// role; tool results become functionResponse parts.
func encodeRequest(req *gateway.Request) *wireRequest {
	out := &wireRequest{}

	s := req.Sampling
	cfg := &genConfig{
		Temperature:     s.Temperature,
		TopP:            s.TopP,
		TopK:            s.TopK,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   s.StopSequences,
	}
	if req.ResponseFormat == gateway.FormatJSONObject {
		cfg.ResponseMimeType = "application/json"
	}
	out.GenerationConfig = cfg

	var systemParts []wirePart
	for _, m := range req.ChatMessages() {
		switch m.Role {
		case gateway.RoleSystem:
			systemParts = append(systemParts, wirePart{Text: m.Content})
		case gateway.RoleUser:
			out.Contents = append(out.Contents, wireContent{Role: "user", Parts: []wirePart{{Text: m.Content}}})
		case gateway.RoleAssistant:
			parts := []wirePart{}
			if m.Content != "" {
				parts = append(parts, wirePart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				json.Unmarshal([]byte(tc.Arguments), &args) //nolint:errcheck
				parts = append(parts, wirePart{FunctionCall: map[string]any{"name": tc.Name, "args": args}})
			}
			out.Contents = append(out.Contents, wireContent{Role: "model", Parts: parts})
		case gateway.RoleTool:
			out.Contents = append(out.Contents, wireContent{Role: "user", Parts: []wirePart{{
				FunctionResponse: map[string]any{
					"name":     m.ToolCallID,
					"response": map[string]any{"content": m.Content},
				},
			}}})
		}
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &wireContent{Parts: systemParts}
	}

	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			d := map[string]any{"name": t.Name}
			if t.Description != "" {
				d["description"] = t.Description
			}
			if len(t.Parameters) > 0 {
				d["parameters"] = json.RawMessage(t.Parameters)
			}
			decls = append(decls, d)
		}
		out.Tools = []wireTool{{FunctionDeclarations: decls}}
		switch req.ToolChoice {
		case "", gateway.ToolChoiceAuto:
		case gateway.ToolChoiceRequired:
			out.ToolConfig = map[string]any{"functionCallingConfig": map[string]any{"mode": "ANY"}}
		default:
			out.ToolConfig = map[string]any{"functionCallingConfig": map[string]any{
				"mode":                 "ANY",
				"allowedFunctionNames": []string{string(req.ToolChoice)},
			}}
		}
	}
	return out
}

// decodeResponse maps a generateContent reply to the normalized response.
func decodeResponse(providerID, model string, raw []byte, costs provider.Costs) *gateway.Response {
	result := gjson.ParseBytes(raw)

	resp := &gateway.Response{
		Model:    providerID + ":" + model,
		Provider: providerID,
	}

	cand := result.Get("candidates.0")
	var text string
	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			text += t.String()
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, gateway.ToolCall{
				ID:        "call_" + fc.Get("name").String(),
				Name:      fc.Get("name").String(),
				Arguments: args,
			})
		}
		return true
	})
	resp.Text = text
	resp.FinishReason = mapFinishReason(cand.Get("finishReason").String(), len(resp.ToolCalls) > 0)

	u := result.Get("usageMetadata")
	resp.Usage = gateway.Usage{
		PromptTokens:     int(u.Get("promptTokenCount").Int()),
		CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(u.Get("totalTokenCount").Int()),
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	resp.CostUSD = costs.Actual(resp.Usage)
	return resp
}

func mapFinishReason(s string, hasToolCalls bool) gateway.FinishReason {
	if hasToolCalls {
		return gateway.FinishToolCall
	}
	switch s {
	case "STOP", "":
		return gateway.FinishStop
	case "MAX_TOKENS":
		return gateway.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return gateway.FinishContentFilter
	default:
		return gateway.FinishStop
	}
}
