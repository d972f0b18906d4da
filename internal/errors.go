package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the error taxonomy observable in the error envelope.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindRateLimited         Kind = "rate_limited" // caller throttle; never falls back
	KindProviderRateLimited Kind = "provider_rate_limited"
	KindProviderTimeout     Kind = "provider_timeout"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindContentFiltered     Kind = "content_filtered"
	KindContextLength       Kind = "context_length_exceeded"
	KindToolValidation      Kind = "tool_validation_error"
	KindProtocolError       Kind = "upstream_protocol_error"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal"
	KindNoCandidate         Kind = "no_candidate"
)

// Class groups kinds by retry behavior.
type Class int

const (
	ClassPermanent Class = iota
	ClassTransient
	ClassTerminal
	ClassFatal
)

// ClassOf returns the retry class for a kind.
func ClassOf(k Kind) Class {
	switch k {
	case KindRateLimited, KindProviderRateLimited, KindProviderTimeout,
		KindProviderUnavailable, KindProtocolError, KindCapacityExceeded:
		return ClassTransient
	case KindCancelled:
		return ClassTerminal
	case KindInternal:
		return ClassFatal
	default:
		return ClassPermanent
	}
}

// Error is the typed gateway error carrying the taxonomy kind, an optional
// retry hint, and the attempted provider chain for the error envelope.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // 0 when no hint
	Attempts   []string      // provider ids tried before surfacing
	wrapped    error
}

// E constructs a gateway Error of the given kind.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind, preserving the original for errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), wrapped: err}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// HTTPStatus maps the kind to its response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindToolValidation, KindContextLength:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited, KindProviderRateLimited:
		return http.StatusTooManyRequests
	case KindContentFiltered:
		return http.StatusOK // surfaced as finishReason=content_filter
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindProviderUnavailable, KindProtocolError, KindCapacityExceeded, KindNoCandidate:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the taxonomy kind from any error. Context errors map to
// cancelled/provider_timeout; everything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindProviderTimeout
	}
	return KindInternal
}

// IsTransient reports whether err may trigger fallback to the next candidate.
// rate_limited is excluded: it is a caller throttle, not a provider fault.
func IsTransient(err error) bool {
	k := KindOf(err)
	return ClassOf(k) == ClassTransient && k != KindRateLimited && k != KindCapacityExceeded
}

// RetryAfterOf returns the retry hint from err, or 0.
func RetryAfterOf(err error) time.Duration {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.RetryAfter
	}
	return 0
}

// AttemptsOf returns the attempted provider chain recorded on err, or nil.
func AttemptsOf(err error) []string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Attempts
	}
	return nil
}
