package gemini

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider/sseutil"
)

// readStream decodes streamGenerateContent SSE payloads into normalized
// chunks. Each SSE data line is a complete generateContent-shaped JSON
// fragment; usage metadata rides on every fragment and the last value wins.
func readStream(ctx context.Context, providerID string, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var (
		finish gateway.FinishReason
		usage  gateway.Usage
	)

	rd := sseutil.NewReader(body)
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
		if ev.Data == "" {
			continue
		}
		result := gjson.Parse(ev.Data)

		if u := result.Get("usageMetadata"); u.Exists() {
			usage = gateway.Usage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}

		cand := result.Get("candidates.0")
		if fr := cand.Get("finishReason"); fr.Exists() && fr.String() != "" {
			finish = mapFinishReason(fr.String(), false)
		}

		aborted := false
		cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			var chunk gateway.StreamChunk
			if t := part.Get("text"); t.Exists() && t.String() != "" {
				chunk.Delta = t.String()
			} else if fc := part.Get("functionCall"); fc.Exists() {
				args := fc.Get("args").Raw
				if args == "" {
					args = "{}"
				}
				chunk.ToolCallDelta = &gateway.ToolCall{
					ID:        "call_" + fc.Get("name").String(),
					Name:      fc.Get("name").String(),
					Arguments: args,
				}
				finish = gateway.FinishToolCall
			} else {
				return true
			}
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				aborted = true
				return false
			}
		})
		if aborted {
			ch <- gateway.StreamChunk{Err: ctx.Err(), FinishReason: gateway.FinishError}
			return
		}
	}
	if finish == "" {
		finish = gateway.FinishStop
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	ch <- gateway.StreamChunk{FinishReason: finish, Usage: &usage}
}
