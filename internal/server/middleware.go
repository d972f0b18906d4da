package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/ratelimit"
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeError(w, r, gateway.E(gateway.KindInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader uses the canonical MIME form so direct map access
// skips textproto.CanonicalMIMEHeaderKey on every request.
const requestIDHeader = "X-Request-Id"

// requestID adds a UUID v7 request ID to the context and response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		// LogAttrs with typed attrs keeps values on the stack instead of
		// boxing every key+value into any.
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// authenticate validates credentials and injects Identity into context.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := gateway.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects callers without the admin role.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := gateway.IdentityFromContext(r.Context())
		if identity == nil || (identity.Role != "admin" && !identity.Can("admin:*")) {
			writeError(w, r, gateway.E(gateway.KindForbidden, "admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit evaluates every applicable bucket for the caller and emits the
// X-RateLimit-* headers on allow and deny alike.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		sub := subjectFor(r)
		decision, err := s.deps.Limiter.Check(r.Context(), sub, requestCost(r))
		if err != nil {
			writeError(w, r, err)
			return
		}

		h := w.Header()
		h["X-Ratelimit-Limit"] = []string{strconv.FormatInt(decision.Limit, 10)}
		h["X-Ratelimit-Remaining"] = []string{strconv.FormatInt(decision.Remaining, 10)}
		h["X-Ratelimit-Reset"] = []string{strconv.FormatInt(decision.Reset.Unix(), 10)}
		h["X-Ratelimit-Tier"] = []string{string(decision.Tier)}

		if !decision.Allowed {
			retry := decision.RetryAfter
			if retry <= 0 {
				retry = time.Second
			}
			h["Retry-After"] = []string{strconv.FormatInt(int64(retry.Seconds()+0.999), 10)}
			writeError(w, r, &gateway.Error{
				Kind:       gateway.KindRateLimited,
				Message:    "rate limit exceeded: " + decision.Reason,
				RetryAfter: retry,
			})
			return
		}

		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		defer func() {
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)

			if decision.Release != nil {
				decision.Release()
			}
			if r.Context().Err() != nil && decision.RefundCost != nil {
				decision.RefundCost()
			}
			s.deps.Limiter.Observe(sub, status >= http.StatusInternalServerError, time.Since(start))
		}()

		next.ServeHTTP(sw, r)
	})
}

// subjectFor derives the stable rate subject for a request: the API key id,
// then the user id, then the client IP for anonymous traffic.
func subjectFor(r *http.Request) ratelimit.Subject {
	ip := clientIP(r)
	sub := ratelimit.Subject{
		Key:   "anon:" + ip,
		Tier:  gateway.TierFree,
		Route: routePattern(r),
		IP:    ip,
		UA:    r.Header.Get("User-Agent"),
	}
	if identity := gateway.IdentityFromContext(r.Context()); identity != nil {
		sub.Tier = identity.EffectiveTier()
		switch {
		case identity.KeyID != "":
			sub.Key = identity.KeyID
		case identity.UserID != "":
			sub.Key = identity.UserID
		}
	}
	return sub
}

// requestCost estimates the token cost of a request from its body size.
// One unit per 4 bytes mirrors the char heuristic in tokencount.
func requestCost(r *http.Request) int64 {
	if r.ContentLength <= 0 {
		return 1
	}
	return max(r.ContentLength/4, 1)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// routePattern returns the chi route pattern for bounded cardinality,
// falling back to the raw path for non-chi routes.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code; subsequent calls are
// forwarded to the underlying writer but do not update the captured value,
// matching net/http semantics where only the first WriteHeader takes effect.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it implements
// http.Flusher, so SSE streaming works through middleware.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, allowing http.ResponseController
// and similar utilities to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
