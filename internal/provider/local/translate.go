package local

import (
	gateway "github.com/llmrouter/gateway/internal"
)

// wireMsg is one chat turn on the runner's native API.
type wireMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireResponse is the runner's /api/chat response body. Streaming fragments
// share the same shape with done=false and counts only on the final frame.
type wireResponse struct {
	Model           string  `json:"model"`
	Message         wireMsg `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// encodeRequest translates a normalized request to the runner's native chat
// body. Sampling knobs ride in the options block; num_predict is the
// runner's name for max tokens.
func encodeRequest(req *gateway.Request, stream bool) map[string]any {
	msgs := req.ChatMessages()
	wire := make([]wireMsg, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == gateway.RoleTool {
			// The runner has no tool role; replay results as user context.
			role = gateway.RoleUser
		}
		wire = append(wire, wireMsg{Role: role, Content: m.Content})
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": wire,
		"stream":   stream,
	}
	if req.ResponseFormat == gateway.FormatJSONObject {
		body["format"] = "json"
	}

	opts := map[string]any{}
	s := req.Sampling
	if s.Temperature != nil {
		opts["temperature"] = *s.Temperature
	}
	if s.TopP != nil {
		opts["top_p"] = *s.TopP
	}
	if s.TopK != nil {
		opts["top_k"] = *s.TopK
	}
	if s.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		opts["presence_penalty"] = *s.PresencePenalty
	}
	if len(s.StopSequences) > 0 {
		opts["stop"] = s.StopSequences
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		body["options"] = opts
	}
	return body
}

func decodeResponse(providerID, model string, out *wireResponse) *gateway.Response {
	usage := gateway.Usage{
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		TotalTokens:      out.PromptEvalCount + out.EvalCount,
	}
	if out.Model != "" {
		model = out.Model
	}
	return &gateway.Response{
		Text:         out.Message.Content,
		Model:        providerID + ":" + model,
		Provider:     providerID,
		Usage:        usage,
		FinishReason: mapDoneReason(out.DoneReason),
	}
}

func mapDoneReason(reason string) gateway.FinishReason {
	switch reason {
	case "", "stop":
		return gateway.FinishStop
	case "length":
		return gateway.FinishLength
	default:
		return gateway.FinishStop
	}
}
