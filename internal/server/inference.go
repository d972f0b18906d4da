package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/cache"
	"github.com/llmrouter/gateway/internal/pipeline"
)

// maxInferenceBody bounds request bodies at 10 MB.
const maxInferenceBody = 10 << 20

// streamKeepAlive is the SSE comment cadence on idle streams.
const streamKeepAlive = 15 * time.Second

func (s *server) handleInference(w http.ResponseWriter, r *http.Request) {
	body, req, ok := s.readRequest(w, r)
	if !ok {
		return
	}

	if req.Stream {
		s.streamInference(w, r, req)
		return
	}

	opts := s.invokeOptions(r, body, req)
	resp, err := s.deps.Pipeline.Invoke(r.Context(), req, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if opts.Cacheable {
		if resp.Cached {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readRequest decodes and validates the normalized request body. The raw
// bytes are returned alongside for cache fingerprinting.
func (s *server) readRequest(w http.ResponseWriter, r *http.Request) ([]byte, *gateway.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInferenceBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "read body: %v", err))
		return nil, nil, false
	}
	req, err := pipeline.StandardizeRequest(body)
	if err != nil {
		writeError(w, r, err)
		return nil, nil, false
	}
	return body, req, true
}

// invokeOptions derives the per-request pipeline options. Response caching
// is opt-in per request via metadata {"cache": "true"} and never applies
// to streams.
func (s *server) invokeOptions(r *http.Request, body []byte, req *gateway.Request) pipeline.Options {
	opts := pipeline.Options{Strategy: r.URL.Query().Get("strategy")}
	if opts.Strategy == "" {
		opts.Strategy = req.Metadata["strategy"]
	}
	if s.deps.Cache == nil || req.Metadata["cache"] != "true" {
		return opts
	}
	principal := ""
	if identity := gateway.IdentityFromContext(r.Context()); identity != nil {
		principal = identity.Subject
	}
	opts.Cacheable = true
	opts.CacheKey = cache.Fingerprint(r.Method, routePattern(r), r.URL.Query(), body, principal)
	return opts
}

// streamFrame is one SSE data payload of the normalized streaming shape.
type streamFrame struct {
	Delta         string               `json:"delta,omitempty"`
	ToolCallDelta *gateway.ToolCall    `json:"toolCallDelta,omitempty"`
	FinishReason  gateway.FinishReason `json:"finishReason,omitempty"`
	Usage         *gateway.Usage       `json:"usage,omitempty"`
	Error         string               `json:"error,omitempty"`
	Message       string               `json:"message,omitempty"`
}

func (s *server) streamInference(w http.ResponseWriter, r *http.Request, req *gateway.Request) {
	opts := pipeline.Options{Strategy: r.URL.Query().Get("strategy")}
	if opts.Strategy == "" {
		opts.Strategy = req.Metadata["strategy"]
	}
	ch, err := s.deps.Pipeline.Stream(r.Context(), req, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		writeError(w, r, gateway.E(gateway.KindInternal, "streaming unsupported"))
		return
	}
	writeSSEHeaders(w)
	flusher.Flush()

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
			writeStreamChunk(w, r, chunk)
			flusher.Flush()
			if chunk.Err != nil || chunk.FinishReason != "" {
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

// writeStreamChunk renders one chunk as an SSE frame. Errors become a
// terminal frame carrying finishReason=error and the taxonomy kind.
func writeStreamChunk(w http.ResponseWriter, r *http.Request, chunk gateway.StreamChunk) {
	frame := streamFrame{
		Delta:         chunk.Delta,
		ToolCallDelta: chunk.ToolCallDelta,
		FinishReason:  chunk.FinishReason,
		Usage:         chunk.Usage,
	}
	if chunk.Err != nil {
		env, _ := envelopeFor(r, chunk.Err)
		frame.FinishReason = gateway.FinishError
		frame.Error = env.Error
		frame.Message = env.Message
	}
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to encode stream frame", "error", err)
		return
	}
	writeSSEData(w, data)
}
