package cohere

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider"
)

var testCosts = provider.Costs{InPerM: 2.5, OutPerM: 10}

func TestInvoke(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotWire map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotWire); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, `{
			"id": "res_1",
			"message": {"role": "assistant", "content": [{"type": "text", "text": "Hello there"}]},
			"finish_reason": "COMPLETE",
			"usage": {"billed_units": {"input_tokens": 10, "output_tokens": 5}}
		}`)
	}))
	defer srv.Close()

	c := New("cohere", srv.URL, srv.Client(), testCosts)
	resp, err := c.Invoke(t.Context(), &gateway.Request{
		Model:     "command-r-plus",
		Prompt:    "hi",
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if gotPath != "/v2/chat" {
		t.Errorf("path = %q", gotPath)
	}
	if gotWire["model"] != "command-r-plus" {
		t.Errorf("wire model = %v", gotWire["model"])
	}
	if _, ok := gotWire["stream"]; ok {
		t.Error("non-streaming request must not set stream")
	}
	if resp.Text != "Hello there" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.FinishReason != gateway.FinishStop {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Model != "cohere:command-r-plus" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestInvokeToolCalls(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire map[string]any
		json.NewDecoder(r.Body).Decode(&wire)
		tools, _ := wire["tools"].([]any)
		if len(tools) != 1 {
			t.Errorf("wire tools = %v", wire["tools"])
		}
		io.WriteString(w, `{
			"message": {
				"role": "assistant",
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}
				}]
			},
			"finish_reason": "TOOL_CALL",
			"usage": {"billed_units": {"input_tokens": 20, "output_tokens": 8}}
		}`)
	}))
	defer srv.Close()

	c := New("cohere", srv.URL, srv.Client(), testCosts)
	resp, err := c.Invoke(t.Context(), &gateway.Request{
		Model:  "command-r-plus",
		Prompt: "look up go",
		Tools: []gateway.Tool{{
			Name:       "lookup",
			Parameters: json.RawMessage(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.FinishReason != gateway.FinishToolCall {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool call id = %q", resp.ToolCalls[0].ID)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire map[string]any
		json.NewDecoder(r.Body).Decode(&wire)
		if wire["stream"] != true {
			t.Errorf("wire stream = %v", wire["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"content-delta\",\"delta\":{\"message\":{\"content\":{\"text\":\"Hel\"}}}}\n\n")
		io.WriteString(w, "data: {\"type\":\"content-delta\",\"delta\":{\"message\":{\"content\":{\"text\":\"lo\"}}}}\n\n")
		io.WriteString(w, "data: {\"type\":\"message-end\",\"delta\":{\"finish_reason\":\"COMPLETE\",\"usage\":{\"billed_units\":{\"input_tokens\":10,\"output_tokens\":5}}}}\n\n")
	}))
	defer srv.Close()

	c := New("cohere", srv.URL, srv.Client(), testCosts)
	ch, err := c.Stream(t.Context(), &gateway.Request{Model: "command-r-plus", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text strings.Builder
	var terminal *gateway.StreamChunk
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		text.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			c := chunk
			terminal = &c
		}
	}

	if text.String() != "Hello" {
		t.Errorf("text = %q", text.String())
	}
	if terminal == nil {
		t.Fatal("no terminal chunk")
	}
	if terminal.FinishReason != gateway.FinishStop {
		t.Errorf("finish = %q", terminal.FinishReason)
	}
	if terminal.Usage == nil || terminal.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", terminal.Usage)
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var wire map[string]any
		json.NewDecoder(r.Body).Decode(&wire)
		if wire["input_type"] != "search_document" {
			t.Errorf("input_type = %v", wire["input_type"])
		}
		io.WriteString(w, `{
			"embeddings": {"float": [[0.1, 0.2], [0.3, 0.4]]},
			"meta": {"billed_units": {"input_tokens": 6}}
		}`)
	}))
	defer srv.Close()

	c := New("cohere", srv.URL, srv.Client(), testCosts)
	resp, err := c.Embed(t.Context(), &gateway.EmbedRequest{
		Model:  "embed-english-v3.0",
		Inputs: []string{"one", "two"},
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(resp.Vectors) != 2 {
		t.Fatalf("vectors = %+v", resp.Vectors)
	}
	if resp.Usage.PromptTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestRerank(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/rerank" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var wire map[string]any
		json.NewDecoder(r.Body).Decode(&wire)
		if wire["query"] != "capital of france" {
			t.Errorf("query = %v", wire["query"])
		}
		io.WriteString(w, `{
			"results": [
				{"index": 1, "relevance_score": 0.98},
				{"index": 0, "relevance_score": 0.12}
			]
		}`)
	}))
	defer srv.Close()

	c := New("cohere", srv.URL, srv.Client(), testCosts)
	docs := []string{"berlin is in germany", "paris is the capital of france"}
	out, err := c.Rerank(t.Context(), "rerank-v3.5", "capital of france", docs)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("results = %+v", out)
	}
	if out[0].Index != 1 || out[0].Score != 0.98 {
		t.Errorf("top result = %+v", out[0])
	}
	if out[0].Text != docs[1] {
		t.Errorf("top result text = %q", out[0].Text)
	}
}

func TestInvokeContextLength(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		io.WriteString(w, `{"message": "request too large"}`)
	}))
	defer srv.Close()

	c := New("cohere", srv.URL, srv.Client(), testCosts)
	_, err := c.Invoke(t.Context(), &gateway.Request{Model: "command-r-plus", Prompt: "hi"})
	if gateway.KindOf(err) != gateway.KindContextLength {
		t.Fatalf("kind = %q, err = %v", gateway.KindOf(err), err)
	}
}
