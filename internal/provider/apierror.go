// Package provider contains shared plumbing for upstream adapters: HTTP
// transport construction, upstream error classification, cost estimation,
// and the tool-call synthesis shim for providers without native function
// calling.
package provider

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/llmrouter/gateway/internal"
)

// ParseAPIError reads up to 4KB of an upstream error response and classifies
// it into the gateway error taxonomy. The Retry-After header, when present on
// a 429, is carried as the retry hint.
func ParseAPIError(providerID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	e := gateway.E(classify(resp.StatusCode, msg), "%s: HTTP %d: %s", providerID, resp.StatusCode, msg)
	if e.Kind == gateway.KindProviderRateLimited {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

func classify(status int, msg string) gateway.Kind {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests:
		return gateway.KindProviderRateLimited
	case status == http.StatusRequestEntityTooLarge:
		return gateway.KindContextLength
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return gateway.KindProviderTimeout
	case status == http.StatusBadRequest:
		if strings.Contains(lower, "context length") || strings.Contains(lower, "context_length") ||
			strings.Contains(lower, "maximum context") || strings.Contains(lower, "too many tokens") {
			return gateway.KindContextLength
		}
		if strings.Contains(lower, "content filter") || strings.Contains(lower, "content_filter") ||
			strings.Contains(lower, "safety") {
			return gateway.KindContentFiltered
		}
		return gateway.KindInvalidRequest
	case status == http.StatusNotFound:
		return gateway.KindNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		// Upstream credential failure is an operator problem, not the caller's.
		return gateway.KindProviderUnavailable
	case status >= 500:
		return gateway.KindProviderUnavailable
	default:
		return gateway.KindProtocolError
	}
}

// WrapTransportErr classifies a connection-level failure: context errors
// keep their cancellation/timeout meaning, everything else means the
// upstream is unreachable.
func WrapTransportErr(providerID string, err error) error {
	kind := gateway.KindOf(err)
	if kind != gateway.KindCancelled && kind != gateway.KindProviderTimeout {
		kind = gateway.KindProviderUnavailable
	}
	e := gateway.Wrap(kind, err)
	e.Message = providerID + ": " + e.Message
	return e
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
