package local

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	gateway "github.com/llmrouter/gateway/internal"
)

// readNDJSONStream consumes the runner's newline-delimited JSON stream and
// forwards normalized chunks. Exactly one terminal chunk is emitted, even
// when the body ends before a done=true frame arrives.
func readNDJSONStream(ctx context.Context, providerID string, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var (
		usage    gateway.Usage
		finish   gateway.FinishReason
		finished bool
	)

	send := func(chunk gateway.StreamChunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame wireResponse
		if err := json.Unmarshal(line, &frame); err != nil {
			// Skip malformed fragments; the runner occasionally interleaves
			// progress lines during model load.
			continue
		}
		if frame.Message.Content != "" {
			if !send(gateway.StreamChunk{Delta: frame.Message.Content}) {
				return
			}
		}
		if frame.Done {
			usage = gateway.Usage{
				PromptTokens:     frame.PromptEvalCount,
				CompletionTokens: frame.EvalCount,
				TotalTokens:      frame.PromptEvalCount + frame.EvalCount,
			}
			finish = mapDoneReason(frame.DoneReason)
			finished = true
			break
		}
	}

	if err := sc.Err(); err != nil && !finished {
		send(gateway.StreamChunk{
			FinishReason: gateway.FinishError,
			Err:          gateway.Wrap(gateway.KindProviderUnavailable, err),
		})
		return
	}
	if !finished {
		finish = gateway.FinishStop
	}
	send(gateway.StreamChunk{FinishReason: finish, Usage: &usage})
}
