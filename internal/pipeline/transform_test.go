package pipeline

import (
	"testing"

	gateway "github.com/llmrouter/gateway/internal"
)

func TestStandardizeRequestAliases(t *testing.T) {
	t.Parallel()
	body := []byte(`{
		"input": "hello",
		"max_tokens": 128,
		"temperature": 0.7,
		"top_p": 0.9,
		"stop": ["END"],
		"response_format": {"type": "json_object"}
	}`)

	req, err := StandardizeRequest(body)
	if err != nil {
		t.Fatalf("StandardizeRequest: %v", err)
	}
	if req.Prompt != "hello" {
		t.Fatalf("Prompt = %q", req.Prompt)
	}
	if req.MaxTokens != 128 {
		t.Fatalf("MaxTokens = %d", req.MaxTokens)
	}
	if req.Sampling.Temperature == nil || *req.Sampling.Temperature != 0.7 {
		t.Fatal("temperature alias not folded")
	}
	if req.Sampling.TopP == nil || *req.Sampling.TopP != 0.9 {
		t.Fatal("top_p alias not folded")
	}
	if len(req.Sampling.StopSequences) != 1 || req.Sampling.StopSequences[0] != "END" {
		t.Fatalf("stop alias not folded: %v", req.Sampling.StopSequences)
	}
	if req.ResponseFormat != gateway.FormatJSONObject {
		t.Fatalf("ResponseFormat = %q", req.ResponseFormat)
	}
}

func TestStandardizeRequestCanonicalFieldsWin(t *testing.T) {
	t.Parallel()
	body := []byte(`{"prompt": "canonical", "input": "alias", "maxTokens": 5, "max_tokens": 99}`)

	req, err := StandardizeRequest(body)
	if err != nil {
		t.Fatalf("StandardizeRequest: %v", err)
	}
	if req.Prompt != "canonical" {
		t.Fatalf("Prompt = %q, canonical field must win", req.Prompt)
	}
	if req.MaxTokens != 5 {
		t.Fatalf("MaxTokens = %d, canonical field must win", req.MaxTokens)
	}
}

func TestStandardizeRequestValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		kind gateway.Kind
	}{
		{"empty", `{}`, gateway.KindInvalidRequest},
		{"malformed", `{`, gateway.KindInvalidRequest},
		{"bad role", `{"messages":[{"role":"robot","content":"x"}]}`, gateway.KindInvalidRequest},
		{"negative max", `{"prompt":"x","maxTokens":-1}`, gateway.KindInvalidRequest},
		{"bad format", `{"prompt":"x","responseFormat":"xml"}`, gateway.KindInvalidRequest},
		{"unnamed tool", `{"prompt":"x","tools":[{"name":""}]}`, gateway.KindToolValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := StandardizeRequest([]byte(tc.body))
			if gateway.KindOf(err) != tc.kind {
				t.Fatalf("err kind = %v, want %v", gateway.KindOf(err), tc.kind)
			}
		})
	}
}

func TestStandardizeResponseFillsDerivedFields(t *testing.T) {
	t.Parallel()
	resp := &gateway.Response{
		Usage: gateway.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
	out := StandardizeResponse(resp, "req-9", map[string]string{"trace": "t1"})
	if out.Usage.TotalTokens != 15 {
		t.Fatalf("TotalTokens = %d, want computed 15", out.Usage.TotalTokens)
	}
	if out.Metadata["requestId"] != "req-9" || out.Metadata["trace"] != "t1" {
		t.Fatalf("Metadata = %v", out.Metadata)
	}
}
