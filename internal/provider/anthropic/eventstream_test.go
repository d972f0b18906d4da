package anthropic

import (
	"bytes"
	"encoding/base64"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"

	gateway "github.com/llmrouter/gateway/internal"
)

// encodeEvent builds a binary event stream frame with a base64-wrapped
// Messages API event JSON payload.
func encodeEvent(t *testing.T, eventType, eventJSON string) []byte {
	t.Helper()
	b64 := base64.StdEncoding.EncodeToString([]byte(eventJSON))
	payload := []byte(`{"bytes":"` + b64 + `"}`)

	msg := eventstream.Message{
		Headers: eventstream.Headers{
			{Name: ":message-type", Value: eventstream.StringValue("event")},
			{Name: ":event-type", Value: eventstream.StringValue(eventType)},
		},
		Payload: payload,
	}

	var buf bytes.Buffer
	encoder := eventstream.NewEncoder()
	if err := encoder.Encode(&buf, msg); err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return buf.Bytes()
}

// encodeException builds a binary event stream exception frame.
func encodeException(t *testing.T, exType, message string) []byte {
	t.Helper()
	msg := eventstream.Message{
		Headers: eventstream.Headers{
			{Name: ":message-type", Value: eventstream.StringValue("exception")},
			{Name: ":exception-type", Value: eventstream.StringValue(exType)},
		},
		Payload: []byte(message),
	}
	var buf bytes.Buffer
	encoder := eventstream.NewEncoder()
	if err := encoder.Encode(&buf, msg); err != nil {
		t.Fatalf("encode exception: %v", err)
	}
	return buf.Bytes()
}

func TestReadBedrockStream(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(encodeEvent(t, "message_start",
		`{"type":"message_start","message":{"usage":{"input_tokens":10}}}`))
	stream.Write(encodeEvent(t, "content_block_delta",
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`))
	stream.Write(encodeEvent(t, "content_block_delta",
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`))
	stream.Write(encodeEvent(t, "message_delta",
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`))
	stream.Write(encodeEvent(t, "message_stop", `{"type":"message_stop"}`))

	ch := make(chan gateway.StreamChunk, 16)
	go readBedrockStream(t.Context(), "bedrock", io.NopCloser(&stream), ch)

	var chunks []gateway.StreamChunk
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("unexpected error: %v", c.Err)
		}
		chunks = append(chunks, c)
	}

	// Two text deltas plus the terminal chunk.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].Delta+chunks[1].Delta != "Hello world" {
		t.Errorf("deltas = %q %q", chunks[0].Delta, chunks[1].Delta)
	}
	last := chunks[2]
	if last.FinishReason != gateway.FinishStop {
		t.Errorf("terminal finish = %q", last.FinishReason)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 15 {
		t.Errorf("terminal usage = %+v", last.Usage)
	}
}

func TestReadBedrockStreamException(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(encodeException(t, "throttlingException", "rate limit exceeded"))

	ch := make(chan gateway.StreamChunk, 4)
	go readBedrockStream(t.Context(), "bedrock", io.NopCloser(&stream), ch)

	var gotErr bool
	for c := range ch {
		if c.Err != nil {
			gotErr = true
			if c.FinishReason != gateway.FinishError {
				t.Errorf("error chunk finish = %q, want error", c.FinishReason)
			}
		}
	}
	if !gotErr {
		t.Fatal("expected an error chunk for the exception frame")
	}
}

func TestReadBedrockStreamTruncated(t *testing.T) {
	t.Parallel()

	// EOF before message_stop still yields exactly one terminal chunk.
	var stream bytes.Buffer
	stream.Write(encodeEvent(t, "message_start",
		`{"type":"message_start","message":{"usage":{"input_tokens":4}}}`))
	stream.Write(encodeEvent(t, "content_block_delta",
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`))

	ch := make(chan gateway.StreamChunk, 8)
	go readBedrockStream(t.Context(), "bedrock", io.NopCloser(&stream), ch)

	var chunks []gateway.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[1].FinishReason == "" {
		t.Error("truncated stream missing terminal finish reason")
	}
}
