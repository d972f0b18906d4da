package anthropic

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/provider/sseutil"
)

// streamState tracks the Messages API SSE state machine across events.
type streamState struct {
	inputTokens  int
	outputTokens int
	stopReason   string
	toolID       string
	toolName     string
}

// readStream decodes Messages API SSE events into normalized chunks. The
// terminal chunk is emitted at message_stop with the accumulated stop reason
// and usage. The channel is closed when the stream ends.
func readStream(ctx context.Context, providerID string, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var state streamState
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

		for _, c := range state.handleEvent(ev.Type, ev.Data) {
			select {
			case ch <- c:
			case <-ctx.Done():
				ch <- gateway.StreamChunk{Err: ctx.Err(), FinishReason: gateway.FinishError}
				return
			}
		}
		if ev.Type == "message_stop" {
			return
		}
	}
	// Stream ended without message_stop; still emit one terminal chunk.
	ch <- state.terminal()
}

// handleEvent processes one SSE event and returns zero or more chunks.
func (s *streamState) handleEvent(event, data string) []gateway.StreamChunk {
	switch event {
	case "message_start":
		r := gjson.Parse(data)
		s.inputTokens = int(r.Get("message.usage.input_tokens").Int())
		return nil

	case "content_block_start":
		r := gjson.Parse(data)
		if r.Get("content_block.type").String() == "tool_use" {
			s.toolID = r.Get("content_block.id").String()
			s.toolName = r.Get("content_block.name").String()
			return []gateway.StreamChunk{{ToolCallDelta: &gateway.ToolCall{
				ID:   s.toolID,
				Name: s.toolName,
			}}}
		}
		return nil

	case "content_block_delta":
		r := gjson.Parse(data)
		switch r.Get("delta.type").String() {
		case "text_delta":
			return []gateway.StreamChunk{{Delta: r.Get("delta.text").String()}}
		case "input_json_delta":
			return []gateway.StreamChunk{{ToolCallDelta: &gateway.ToolCall{
				ID:        s.toolID,
				Name:      s.toolName,
				Arguments: r.Get("delta.partial_json").String(),
			}}}
		}
		return nil

	case "message_delta":
		r := gjson.Parse(data)
		s.outputTokens = int(r.Get("usage.output_tokens").Int())
		s.stopReason = r.Get("delta.stop_reason").String()
		return nil

	case "message_stop":
		return []gateway.StreamChunk{s.terminal()}

	case "error":
		r := gjson.Parse(data)
		return []gateway.StreamChunk{{
			Err:          fmt.Errorf("anthropic: stream error: %s", r.Get("error.message").String()),
			FinishReason: gateway.FinishError,
		}}

	default: // ping, content_block_stop
		return nil
	}
}

func (s *streamState) terminal() gateway.StreamChunk {
	return gateway.StreamChunk{
		FinishReason: mapStopReason(s.stopReason),
		Usage: &gateway.Usage{
			PromptTokens:     s.inputTokens,
			CompletionTokens: s.outputTokens,
			TotalTokens:      s.inputTokens + s.outputTokens,
		},
	}
}
