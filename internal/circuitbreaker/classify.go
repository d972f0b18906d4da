package circuitbreaker

import (
	gateway "github.com/llmrouter/gateway/internal"
)

// CountsAsFailure reports whether an error should increment the breaker's
// consecutive-failure counter. Provider faults (unavailability, timeouts,
// protocol breakage) count; client errors, content filtering, and upstream
// throttling do not -- a rate-limited provider is healthy, just busy.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch gateway.KindOf(err) {
	case gateway.KindProviderUnavailable, gateway.KindProviderTimeout,
		gateway.KindProtocolError, gateway.KindInternal:
		return true
	default:
		return false
	}
}
