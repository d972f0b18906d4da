package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/llmrouter/gateway/internal"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error      string         `json:"error"` // taxonomy kind
	Message    string         `json:"message"`
	RequestID  string         `json:"requestId"`
	RetryAfter float64        `json:"retryAfter,omitempty"` // seconds
	Details    map[string]any `json:"details,omitempty"`
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError renders err as the taxonomy error envelope. Unclassified
// errors surface as internal with a sanitized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	env, status := envelopeFor(r, err)
	writeJSON(w, status, env)
}

func envelopeFor(r *http.Request, err error) (errorEnvelope, int) {
	env := errorEnvelope{
		RequestID: gateway.RequestIDFromContext(r.Context()),
	}

	var ge *gateway.Error
	if !errors.As(err, &ge) {
		ge = &gateway.Error{Kind: gateway.KindOf(err), Message: err.Error()}
	}
	if ge.Kind == gateway.KindInternal {
		slog.LogAttrs(r.Context(), slog.LevelError, "internal error",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		ge = &gateway.Error{Kind: gateway.KindInternal, Message: "internal error"}
	}

	env.Error = string(ge.Kind)
	env.Message = ge.Message
	if ge.RetryAfter > 0 {
		env.RetryAfter = ge.RetryAfter.Seconds()
	}
	if len(ge.Attempts) > 0 {
		env.Details = map[string]any{"attempts": ge.Attempts}
	}
	return env, ge.HTTPStatus()
}
