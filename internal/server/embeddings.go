package server

import (
	"encoding/json"
	"net/http"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/pipeline"
)

// embedRequest accepts both the normalized "inputs" list and the
// OpenAI-style "input" (string or list).
type embedRequest struct {
	Model  string          `json:"model"`
	Inputs []string        `json:"inputs"`
	Input  json.RawMessage `json:"input"`
}

func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInferenceBody)
	var body embedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "malformed request body: %v", err))
		return
	}

	inputs := body.Inputs
	if len(inputs) == 0 && len(body.Input) > 0 {
		var one string
		if err := json.Unmarshal(body.Input, &one); err == nil {
			inputs = []string{one}
		} else if err := json.Unmarshal(body.Input, &inputs); err != nil {
			writeError(w, r, gateway.E(gateway.KindInvalidRequest, "input must be a string or list of strings"))
			return
		}
	}
	if len(inputs) == 0 {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "inputs is required"))
		return
	}

	resp, err := s.deps.Pipeline.Embed(r.Context(), &gateway.EmbedRequest{
		Model:  body.Model,
		Inputs: inputs,
	}, pipeline.Options{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"topN"`
}

type rerankResponse struct {
	Model   string              `json:"model"`
	Results []gateway.ScoredDoc `json:"results"`
}

func (s *server) handleRerank(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInferenceBody)
	var body rerankRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "malformed request body: %v", err))
		return
	}
	if body.Query == "" || len(body.Documents) == 0 {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "query and documents are required"))
		return
	}

	results, err := s.deps.Pipeline.Rerank(r.Context(), body.Model, body.Query, body.Documents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if body.TopN > 0 && body.TopN < len(results) {
		results = results[:body.TopN]
	}
	writeJSON(w, http.StatusOK, rerankResponse{Model: body.Model, Results: results})
}
