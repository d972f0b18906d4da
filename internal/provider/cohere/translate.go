package cohere

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/provider/sseutil"
)

// encodeRequest converts a normalized request to the v2 chat shape. The v2
// message format matches the chat-completions role layout closely enough
// that translation is mostly field renames.
func encodeRequest(req *gateway.Request, stream bool) map[string]any {
	msgs := make([]map[string]any, 0, len(req.ChatMessages()))
	for _, m := range req.ChatMessages() {
		wm := map[string]any{"role": m.Role, "content": m.Content}
		if m.Role == gateway.RoleTool {
			wm["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = map[string]any{
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
		msgs = append(msgs, wm)
	}

	out := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if stream {
		out["stream"] = true
	}
	if req.MaxTokens > 0 {
		out["max_tokens"] = req.MaxTokens
	}
	s := req.Sampling
	if s.Temperature != nil {
		out["temperature"] = *s.Temperature
	}
	if s.TopP != nil {
		out["p"] = *s.TopP
	}
	if s.TopK != nil {
		out["k"] = *s.TopK
	}
	if len(s.StopSequences) > 0 {
		out["stop_sequences"] = s.StopSequences
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
	}
	if req.ResponseFormat == gateway.FormatJSONObject {
		out["response_format"] = map[string]any{"type": "json_object"}
	}
	return out
}

// decodeResponse maps a v2 chat reply to the normalized response.
func decodeResponse(providerID, model string, raw []byte, costs provider.Costs) *gateway.Response {
	result := gjson.ParseBytes(raw)

	resp := &gateway.Response{
		Model:    providerID + ":" + model,
		Provider: providerID,
	}

	var text strings.Builder
	result.Get("message.content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	resp.Text = text.String()

	result.Get("message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		resp.ToolCalls = append(resp.ToolCalls, gateway.ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})

	resp.FinishReason = mapFinishReason(result.Get("finish_reason").String(), len(resp.ToolCalls) > 0)

	u := result.Get("usage.billed_units")
	in, out := int(u.Get("input_tokens").Int()), int(u.Get("output_tokens").Int())
	resp.Usage = gateway.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	resp.CostUSD = costs.Actual(resp.Usage)
	return resp
}

func mapFinishReason(s string, hasToolCalls bool) gateway.FinishReason {
	if hasToolCalls {
		return gateway.FinishToolCall
	}
	switch s {
	case "COMPLETE", "STOP_SEQUENCE", "":
		return gateway.FinishStop
	case "MAX_TOKENS":
		return gateway.FinishLength
	case "TOOL_CALL":
		return gateway.FinishToolCall
	default:
		return gateway.FinishStop
	}
}

// readStream decodes v2 chat SSE events into normalized chunks.
func readStream(ctx context.Context, providerID string, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var (
		finish gateway.FinishReason
		usage  gateway.Usage
	)

	rd := sseutil.NewReader(body)
	for {
		ev, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ch <- gateway.StreamChunk{
				Err:          fmt.Errorf("%s: read stream: %w", providerID, err),
				FinishReason: gateway.FinishError,
			}
			return
		}
		if ev.Data == "" {
			continue
		}
		r := gjson.Parse(ev.Data)

		switch r.Get("type").String() {
		case "content-delta":
			delta := r.Get("delta.message.content.text").String()
			if delta == "" {
				continue
			}
			select {
			case ch <- gateway.StreamChunk{Delta: delta}:
			case <-ctx.Done():
				ch <- gateway.StreamChunk{Err: ctx.Err(), FinishReason: gateway.FinishError}
				return
			}
		case "tool-call-start", "tool-call-delta":
			tc := r.Get("delta.message.tool_calls")
			call := &gateway.ToolCall{
				ID:        tc.Get("id").String(),
				Name:      tc.Get("function.name").String(),
				Arguments: tc.Get("function.arguments").String(),
			}
			finish = gateway.FinishToolCall
			select {
			case ch <- gateway.StreamChunk{ToolCallDelta: call}:
			case <-ctx.Done():
				ch <- gateway.StreamChunk{Err: ctx.Err(), FinishReason: gateway.FinishError}
				return
			}
		case "message-end":
			if finish == "" {
				finish = mapFinishReason(r.Get("delta.finish_reason").String(), false)
			}
			u := r.Get("delta.usage.billed_units")
			in, out := int(u.Get("input_tokens").Int()), int(u.Get("output_tokens").Int())
			usage = gateway.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
			ch <- gateway.StreamChunk{FinishReason: finish, Usage: &usage}
			return
		}
	}
	if finish == "" {
		finish = gateway.FinishStop
	}
	ch <- gateway.StreamChunk{FinishReason: finish, Usage: &usage}
}
