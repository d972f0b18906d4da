// Package cloudauth decorates outbound HTTP transports with provider
// credentials: static key headers, GCP OAuth for Vertex hostings, and AWS
// SigV4 for Bedrock. Decorators always clone the request before writing
// headers so the caller's request is never mutated.
package cloudauth

import "net/http"

func orDefault(rt http.RoundTripper) http.RoundTripper {
	if rt != nil {
		return rt
	}
	return http.DefaultTransport
}

// APIKeyTransport sets a static credential header on every request.
// Prefix, when set, is prepended to the key value ("Bearer " for
// Authorization-style headers).
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Prefix+t.Key)
	return orDefault(t.Base).RoundTrip(r2)
}

// Bearer wraps base with a standard Authorization bearer credential.
func Bearer(key string, base http.RoundTripper) *APIKeyTransport {
	return &APIKeyTransport{Key: key, HeaderName: "Authorization", Prefix: "Bearer ", Base: base}
}

// Header wraps base with a provider-specific key header such as x-api-key
// or x-goog-api-key.
func Header(name, key string, base http.RoundTripper) *APIKeyTransport {
	return &APIKeyTransport{Key: key, HeaderName: name, Base: base}
}
