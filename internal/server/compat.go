package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/pipeline"
)

// The /v1/chat/completions alias accepts OpenAI-format requests and renders
// OpenAI-format responses. Request aliases (max_tokens, top_p, stop,
// response_format) are folded by StandardizeRequest; only the response
// direction needs translation here.

type compatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []compatToolCall `json:"tool_calls,omitempty"`
}

type compatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type compatChoice struct {
	Index        int           `json:"index"`
	Message      compatMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type compatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []compatChoice `json:"choices"`
	Usage   compatUsage    `json:"usage"`
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, req, ok := s.readRequest(w, r)
	if !ok {
		return
	}

	if req.Stream {
		s.streamChatCompletions(w, r, req)
		return
	}

	opts := s.invokeOptions(r, body, req)
	resp, err := s.deps.Pipeline.Invoke(r.Context(), req, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompatResponse(resp, gateway.RequestIDFromContext(r.Context())))
}

func toCompatResponse(resp *gateway.Response, requestID string) compatResponse {
	choice := compatChoice{
		Message:      compatMessage{Role: "assistant", Content: resp.Text},
		FinishReason: compatFinishReason(resp.FinishReason),
	}
	for _, tc := range resp.ToolCalls {
		cc := compatToolCall{ID: tc.ID, Type: "function"}
		cc.Function.Name = tc.Name
		cc.Function.Arguments = tc.Arguments
		choice.Message.ToolCalls = append(choice.Message.ToolCalls, cc)
	}
	return compatResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []compatChoice{choice},
		Usage: compatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func compatFinishReason(fr gateway.FinishReason) string {
	switch fr {
	case gateway.FinishToolCall:
		return "tool_calls"
	case gateway.FinishContentFilter:
		return "content_filter"
	case gateway.FinishLength:
		return "length"
	default:
		return "stop"
	}
}

// compatChunk is one OpenAI-format streaming frame.
type compatChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []compatChunkChoice `json:"choices"`
	Usage   *compatUsage        `json:"usage,omitempty"`
}

type compatChunkChoice struct {
	Index        int              `json:"index"`
	Delta        compatChunkDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

type compatChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *server) streamChatCompletions(w http.ResponseWriter, r *http.Request, req *gateway.Request) {
	ch, err := s.deps.Pipeline.Stream(r.Context(), req, pipeline.Options{Strategy: req.Metadata["strategy"]})
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, gateway.E(gateway.KindInternal, "streaming unsupported"))
		return
	}
	writeSSEHeaders(w)
	flusher.Flush()

	id := "chatcmpl-" + gateway.RequestIDFromContext(r.Context())
	created := time.Now().Unix()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, open := <-ch:
			if !open {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				// The compat surface has no error frame shape; log and
				// terminate the stream.
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", chunk.Err.Error()),
				)
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			writeCompatChunk(w, id, created, req.Model, chunk)
			flusher.Flush()
			if chunk.FinishReason != "" {
				writeSSEDone(w)
				flusher.Flush()
				return
			}

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeCompatChunk(w http.ResponseWriter, id string, created int64, model string, chunk gateway.StreamChunk) {
	frame := compatChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
	}
	frame.Choices = []compatChunkChoice{{Delta: compatChunkDelta{Content: chunk.Delta}}}
	if chunk.FinishReason != "" {
		fr := compatFinishReason(chunk.FinishReason)
		frame.Choices[0].FinishReason = &fr
		if chunk.Usage != nil {
			frame.Usage = &compatUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	writeSSEData(w, data)
}

// modelEntry is one row of the OpenAI-format model listing.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Registry.Snapshot()
	var entries []modelEntry
	for _, pid := range snap.ProviderIDs() {
		p := snap.Providers[pid]
		for _, m := range p.Models {
			entries = append(entries, modelEntry{
				ID:      pid + ":" + m,
				Object:  "model",
				OwnedBy: pid,
			})
		}
	}
	if entries == nil {
		entries = []modelEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// splitModelRef splits "<provider>:<modelId>" into its parts; the provider
// is empty when the caller passed a bare model id.
func splitModelRef(ref string) (provider, model string) {
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}
