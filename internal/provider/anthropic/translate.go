package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

// wireRequest is the Messages API request body.
type wireRequest struct {
	Model       string     `json:"model"`
	MaxTokens   int        `json:"max_tokens"`
	Messages    []wireMsg  `json:"messages"`
	System      string     `json:"system,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	TopP        *float64   `json:"top_p,omitempty"`
	TopK        *int       `json:"top_k,omitempty"`
	StopSeqs    []string   `json:"stop_sequences,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
	Tools       []wireTool `json:"tools,omitempty"`
	ToolChoice  any        `json:"tool_choice,omitempty"`

	// repaired marks that fixAlternation altered the conversation; surfaced
	// in the response metadata, never sent on the wire.
	repaired bool
}

type wireMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or content block list
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// defaultMaxTokens is used when the request sets none; the Messages API
// requires max_tokens.
const defaultMaxTokens = 4096

// encodeRequest converts a normalized request to the Messages API shape.
// System turns are lifted into the top-level system field, and the remaining
// conversation is repaired to the strict user/assistant alternation the API
// enforces.
func encodeRequest(req *gateway.Request, stream bool) (*wireRequest, error) {
	out := &wireRequest{
		Model:       req.Model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
		TopK:        req.Sampling.TopK,
		StopSeqs:    req.Sampling.StopSequences,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}

	var system []string
	var msgs []wireMsg
	for _, m := range req.ChatMessages() {
		switch m.Role {
		case gateway.RoleSystem:
			system = append(system, m.Content)
		case gateway.RoleUser:
			msgs = append(msgs, wireMsg{Role: "user", Content: m.Content})
		case gateway.RoleAssistant:
			msgs = append(msgs, wireMsg{Role: "assistant", Content: encodeAssistant(m)})
		case gateway.RoleTool:
			// Tool results map to user-role tool_result blocks.
			msgs = append(msgs, wireMsg{Role: "user", Content: []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}}})
		default:
			return nil, gateway.E(gateway.KindInvalidRequest, "unsupported role %q", m.Role)
		}
	}
	out.System = strings.Join(system, "\n\n")
	out.Messages, out.repaired = fixAlternation(msgs)

	for _, t := range req.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	switch req.ToolChoice {
	case "", gateway.ToolChoiceAuto:
	case gateway.ToolChoiceRequired:
		out.ToolChoice = map[string]any{"type": "any"}
	default:
		out.ToolChoice = map[string]any{"type": "tool", "name": string(req.ToolChoice)}
	}
	return out, nil
}

// encodeAssistant renders an assistant turn, expanding recorded tool calls
// into tool_use blocks.
func encodeAssistant(m gateway.Message) any {
	if len(m.ToolCalls) == 0 {
		return m.Content
	}
	blocks := make([]map[string]any, 0, len(m.ToolCalls)+1)
	if m.Content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": json.RawMessage(orEmptyObject(tc.Arguments)),
		})
	}
	return blocks
}

func orEmptyObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

// fixAlternation repairs a conversation for the strict alternation rule:
// consecutive same-role turns are merged with a blank line, and a neutral
// user turn is injected when the conversation opens with the assistant. The
// returned flag reports whether any repair took place.
func fixAlternation(msgs []wireMsg) ([]wireMsg, bool) {
	if len(msgs) == 0 {
		return msgs, false
	}
	repaired := false
	var out []wireMsg
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			repaired = true
			prev, pOK := out[n-1].Content.(string)
			cur, cOK := m.Content.(string)
			if pOK && cOK {
				out[n-1].Content = prev + "\n\n" + cur
				continue
			}
			// Block-content turns cannot be merged textually; separate them
			// with a neutral turn of the opposite role.
			neutral := "user"
			if m.Role == "user" {
				neutral = "assistant"
			}
			out = append(out, wireMsg{Role: neutral, Content: "(continued)"})
		}
		out = append(out, m)
	}
	if out[0].Role == "assistant" {
		repaired = true
		out = append([]wireMsg{{Role: "user", Content: "(continued)"}}, out...)
	}
	return out, repaired
}

// decodeResponse maps a Messages API reply to the normalized response.
func decodeResponse(providerID, model string, raw []byte, costs provider.Costs) *gateway.Response {
	result := gjson.ParseBytes(raw)

	resp := &gateway.Response{
		Model:    providerID + ":" + model,
		Provider: providerID,
	}

	var text strings.Builder
	result.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, gateway.ToolCall{
				ID:        block.Get("id").String(),
				Name:      block.Get("name").String(),
				Arguments: block.Get("input").Raw,
			})
		}
		return true
	})
	resp.Text = text.String()
	resp.FinishReason = mapStopReason(result.Get("stop_reason").String())

	u := result.Get("usage")
	in, outTok := int(u.Get("input_tokens").Int()), int(u.Get("output_tokens").Int())
	resp.Usage = gateway.Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}
	resp.CostUSD = costs.Actual(resp.Usage)
	return resp
}

// mapStopReason converts Messages API stop reasons to normalized finish reasons.
func mapStopReason(reason string) gateway.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return gateway.FinishStop
	case "max_tokens":
		return gateway.FinishLength
	case "tool_use":
		return gateway.FinishToolCall
	case "refusal":
		return gateway.FinishContentFilter
	default:
		return gateway.FinishStop
	}
}
