package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
)

// Providers without native function calling get tool support synthesized:
// the tool schemas are rendered into an instruction block appended to the
// system prompt, and the completion is scanned for the JSON envelope the
// instruction asks for. The same mechanism serves json_object response
// format on providers without a native JSON mode.

// SynthesizeTools rewrites req for a provider lacking native tools. It
// returns a shallow copy; the original request is never mutated.
func SynthesizeTools(req *gateway.Request) *gateway.Request {
	if len(req.Tools) == 0 && req.ResponseFormat != gateway.FormatJSONObject {
		return req
	}
	var b strings.Builder
	if len(req.Tools) > 0 {
		b.WriteString("You have access to the following tools:\n")
		for _, t := range req.Tools {
			b.WriteString("- ")
			b.WriteString(t.Name)
			if t.Description != "" {
				b.WriteString(": ")
				b.WriteString(t.Description)
			}
			if len(t.Parameters) > 0 {
				b.WriteString("\n  parameters (JSON schema): ")
				b.Write(t.Parameters)
			}
			b.WriteByte('\n')
		}
		b.WriteString("\nTo call a tool, respond with ONLY a JSON object of the form ")
		b.WriteString(`{"tool_call":{"name":"<tool>","arguments":{...}}}`)
		b.WriteString(" and nothing else.")
		if req.ToolChoice == gateway.ToolChoiceRequired {
			b.WriteString(" You MUST call a tool.")
		} else if req.ToolChoice != "" && req.ToolChoice != gateway.ToolChoiceAuto {
			fmt.Fprintf(&b, " You MUST call the tool %q.", string(req.ToolChoice))
		}
	}
	if req.ResponseFormat == gateway.FormatJSONObject {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Respond with a single valid JSON object and nothing else.")
	}

	out := *req
	out.Tools = nil
	out.ToolChoice = ""
	out.ResponseFormat = ""
	out.Messages = prependSystem(req.ChatMessages(), b.String())
	out.Prompt = ""
	return &out
}

// ParseSynthesizedToolCall scans a completion for the tool-call envelope.
// Returns nil when the text is a plain answer.
func ParseSynthesizedToolCall(text string) *gateway.ToolCall {
	trimmed := strings.TrimSpace(text)
	// Tolerate a fenced code block around the JSON.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)

	call := gjson.Get(trimmed, "tool_call")
	if !call.Exists() {
		return nil
	}
	name := call.Get("name").String()
	if name == "" {
		return nil
	}
	args := call.Get("arguments").Raw
	if args == "" {
		args = "{}"
	}
	// Normalize arguments to compact JSON text.
	var tmp any
	if err := json.Unmarshal([]byte(args), &tmp); err != nil {
		return nil
	}
	compact, _ := json.Marshal(tmp)
	return &gateway.ToolCall{ID: "call_synth_1", Name: name, Arguments: string(compact)}
}

// prependSystem merges extra into the conversation's system turn, creating
// one when absent.
func prependSystem(msgs []gateway.Message, extra string) []gateway.Message {
	if extra == "" {
		return msgs
	}
	out := make([]gateway.Message, 0, len(msgs)+1)
	if len(msgs) > 0 && msgs[0].Role == gateway.RoleSystem {
		merged := msgs[0]
		merged.Content = merged.Content + "\n\n" + extra
		out = append(out, merged)
		return append(out, msgs[1:]...)
	}
	out = append(out, gateway.Message{Role: gateway.RoleSystem, Content: extra})
	return append(out, msgs...)
}
