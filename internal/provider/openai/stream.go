package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider/sseutil"
)

// readStream decodes chat-completions SSE payloads into normalized chunks.
// Content deltas are emitted as they arrive; the finish reason and usage are
// held back and emitted once as the terminal chunk when [DONE] arrives. The
// channel is closed when the stream ends.
func readStream(ctx context.Context, providerID string, resp *http.Response, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	var (
		finish gateway.FinishReason
		usage  *gateway.Usage
	)

	send := func(c gateway.StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			ch <- gateway.StreamChunk{Err: ctx.Err(), FinishReason: gateway.FinishError}
			return false
		}
	}

	rd := sseutil.NewReader(resp.Body)
	for {
		ev, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ch <- gateway.StreamChunk{
				Err:          fmt.Errorf("%s: read stream: %w", providerID, err),
				FinishReason: gateway.FinishError,
			}
			return
		}
		data := ev.Data
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			if finish == "" {
				finish = gateway.FinishStop
			}
			ch <- gateway.StreamChunk{FinishReason: finish, Usage: usage}
			return
		}

		if u := gjson.Get(data, "usage"); u.Exists() && u.IsObject() {
			usage = &gateway.Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}

		choice := gjson.Get(data, "choices.0")
		if !choice.Exists() {
			continue
		}
		if fr := choice.Get("finish_reason"); fr.Exists() && fr.Type == gjson.String {
			finish = mapFinishReason(fr.String())
		}
		if delta := choice.Get("delta.content"); delta.Exists() && delta.String() != "" {
			if !send(gateway.StreamChunk{Delta: delta.String()}) {
				return
			}
		}
		if tc := choice.Get("delta.tool_calls.0"); tc.Exists() {
			call := &gateway.ToolCall{
				ID:        tc.Get("id").String(),
				Name:      tc.Get("function.name").String(),
				Arguments: tc.Get("function.arguments").String(),
			}
			if !send(gateway.StreamChunk{ToolCallDelta: call}) {
				return
			}
		}
	}
	// Stream ended without [DONE]; still emit exactly one terminal chunk.
	if finish == "" {
		finish = gateway.FinishStop
	}
	ch <- gateway.StreamChunk{FinishReason: finish, Usage: usage}
}
