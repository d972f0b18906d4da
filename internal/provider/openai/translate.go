package openai

import (
	"encoding/json"

	"github.com/llmrouter/gateway/internal/provider"

	gateway "github.com/llmrouter/gateway/internal"
)

// encodeRequest translates a normalized request into the chat-completions
// wire shape.
func encodeRequest(req *gateway.Request, stream bool) map[string]any {
	out := map[string]any{
		"model":    req.Model,
		"messages": encodeMessages(req.ChatMessages()),
	}
	if req.MaxTokens > 0 {
		out["max_tokens"] = req.MaxTokens
	}
	s := req.Sampling
	if s.Temperature != nil {
		out["temperature"] = *s.Temperature
	}
	if s.TopP != nil {
		out["top_p"] = *s.TopP
	}
	if s.FrequencyPenalty != nil {
		out["frequency_penalty"] = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		out["presence_penalty"] = *s.PresencePenalty
	}
	if len(s.StopSequences) > 0 {
		out["stop"] = s.StopSequences
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			fn := map[string]any{"name": t.Name}
			if t.Description != "" {
				fn["description"] = t.Description
			}
			if len(t.Parameters) > 0 {
				fn["parameters"] = json.RawMessage(t.Parameters)
			}
			tools[i] = map[string]any{"type": "function", "function": fn}
		}
		out["tools"] = tools
		switch req.ToolChoice {
		case "", gateway.ToolChoiceAuto:
		case gateway.ToolChoiceRequired:
			out["tool_choice"] = "required"
		default:
			out["tool_choice"] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": string(req.ToolChoice)},
			}
		}
	}
	if req.ResponseFormat == gateway.FormatJSONObject {
		out["response_format"] = map[string]any{"type": "json_object"}
	}
	if stream {
		out["stream"] = true
		out["stream_options"] = map[string]any{"include_usage": true}
	}
	return out
}

func encodeMessages(msgs []gateway.Message) []map[string]any {
	out := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		wm := map[string]any{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			wm["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				calls[j] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				}
			}
			wm["tool_calls"] = calls
		}
		out[i] = wm
	}
	return out
}

// wireUsage is the usage object shared by completion and embedding replies.
type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// wireResponse is the non-streaming chat-completions reply envelope.
type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
}

// decodeResponse maps a wire reply to the normalized response shape.
func decodeResponse(providerID, model string, w *wireResponse, costs provider.Costs) *gateway.Response {
	resp := &gateway.Response{
		Model:    providerID + ":" + model,
		Provider: providerID,
		Usage: gateway.Usage{
			PromptTokens:     w.Usage.PromptTokens,
			CompletionTokens: w.Usage.CompletionTokens,
			TotalTokens:      w.Usage.TotalTokens,
		},
		FinishReason: gateway.FinishStop,
	}
	resp.CostUSD = costs.Actual(resp.Usage)
	if len(w.Choices) == 0 {
		return resp
	}
	choice := w.Choices[0]
	resp.Text = choice.Message.Content
	resp.FinishReason = mapFinishReason(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, gateway.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}

func mapFinishReason(s string) gateway.FinishReason {
	switch s {
	case "stop", "":
		return gateway.FinishStop
	case "length":
		return gateway.FinishLength
	case "tool_calls", "function_call":
		return gateway.FinishToolCall
	case "content_filter":
		return gateway.FinishContentFilter
	default:
		return gateway.FinishStop
	}
}
