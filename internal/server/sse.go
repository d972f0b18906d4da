package server

import "net/http"

// Event-stream framing sentinels. The done frame matches the chat-completions
// terminator so compat clients stop reading cleanly.
var (
	sseDone      = []byte("data: [DONE]\n\n")
	sseKeepAlive = []byte(": keep-alive\n\n")
)

func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disables proxy buffering; without it nginx batches the stream.
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// writeSSEData emits one "data: <payload>\n\n" frame as a single Write so
// a flush between prefix and payload can never ship a partial frame.
func writeSSEData(w http.ResponseWriter, data []byte) {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	w.Write(frame)
}

func writeSSEDone(w http.ResponseWriter) {
	w.Write(sseDone)
}

func writeSSEKeepAlive(w http.ResponseWriter) {
	w.Write(sseKeepAlive)
}
