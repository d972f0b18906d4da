package local

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/llmrouter/gateway/internal"
)

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
			"model": "llama3.2",
			"message": {"role": "assistant", "content": "Hello there"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 10,
			"eval_count": 5
		}`)
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	resp, err := c.Invoke(t.Context(), &gateway.Request{
		Model:     "llama3.2",
		Prompt:    "hi",
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if gotPath != "/api/chat" {
		t.Errorf("path = %q", gotPath)
	}
	if gotWire["stream"] != false {
		t.Errorf("wire stream = %v", gotWire["stream"])
	}
	opts, _ := gotWire["options"].(map[string]any)
	if opts["num_predict"] != float64(64) {
		t.Errorf("options = %v", opts)
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
	if resp.CostUSD != 0 {
		t.Errorf("cost = %v, local inference is free", resp.CostUSD)
	}
}

func TestInvokeSynthesizedToolCall(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire struct {
			Messages []wireMsg `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&wire)
		// The tool schemas must be rendered into a system turn.
		if len(wire.Messages) == 0 || wire.Messages[0].Role != gateway.RoleSystem {
			t.Errorf("messages = %+v", wire.Messages)
		} else if !strings.Contains(wire.Messages[0].Content, "lookup") {
			t.Errorf("system turn missing tool schema: %q", wire.Messages[0].Content)
		}
		io.WriteString(w, `{
			"model": "llama3.2",
			"message": {"role": "assistant", "content": "{\"tool_call\":{\"name\":\"lookup\",\"arguments\":{\"q\":\"go\"}}}"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 20,
			"eval_count": 12
		}`)
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	resp, err := c.Invoke(t.Context(), &gateway.Request{
		Model:  "llama3.2",
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
	if resp.Text != "" {
		t.Errorf("text should be cleared on a tool call, got %q", resp.Text)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":5}`+"\n")
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	ch, err := c.Stream(t.Context(), &gateway.Request{Model: "llama3.2", Prompt: "hi"})
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
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"model": "nomic-embed-text", "embeddings": [[0.1, 0.2]]}`)
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	resp, err := c.Embed(t.Context(), &gateway.EmbedRequest{
		Model:  "nomic-embed-text",
		Inputs: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(resp.Vectors) != 1 || resp.Vectors[0][1] != 0.2 {
		t.Errorf("vectors = %+v", resp.Vectors)
	}
}

func TestLoadModel(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		io.WriteString(w, `{"status": "success"}`)
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	if err := c.LoadModel(t.Context(), "llama3.2"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	// Pull first, then warm.
	if len(paths) != 2 || paths[0] != "/api/pull" || paths[1] != "/api/generate" {
		t.Errorf("paths = %v", paths)
	}
}

func TestUnloadModel(t *testing.T) {
	t.Parallel()

	var gotWire map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotWire)
		io.WriteString(w, `{"done": true}`)
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	if err := c.UnloadModel(t.Context(), "llama3.2"); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if gotWire["keep_alive"] != float64(0) {
		t.Errorf("keep_alive = %v", gotWire["keep_alive"])
	}
}

func TestLoadModelPullFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("local", srv.URL, nil)
	err := c.LoadModel(t.Context(), "nope")
	if gateway.KindOf(err) != gateway.KindProviderUnavailable {
		t.Fatalf("kind = %q, err = %v", gateway.KindOf(err), err)
	}
}
