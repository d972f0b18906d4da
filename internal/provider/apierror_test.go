package provider

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

func errResp(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseAPIErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   gateway.Kind
	}{
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, gateway.KindProviderRateLimited},
		{"payload too large", 413, `{"message":"too big"}`, gateway.KindContextLength},
		{"request timeout", 408, "", gateway.KindProviderTimeout},
		{"gateway timeout", 504, "", gateway.KindProviderTimeout},
		{"context length in 400", 400, `{"error":{"message":"maximum context length is 8192 tokens"}}`, gateway.KindContextLength},
		{"content filter in 400", 400, `{"error":{"message":"blocked by content filter"}}`, gateway.KindContentFiltered},
		{"plain bad request", 400, `{"error":{"message":"model field required"}}`, gateway.KindInvalidRequest},
		{"not found", 404, "", gateway.KindNotFound},
		{"bad credentials", 401, `{"error":{"message":"invalid api key"}}`, gateway.KindProviderUnavailable},
		{"forbidden", 403, "", gateway.KindProviderUnavailable},
		{"server error", 500, "boom", gateway.KindProviderUnavailable},
		{"odd status", 418, "", gateway.KindProtocolError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ParseAPIError("p", errResp(tc.status, tc.body, nil))
			if got := gateway.KindOf(err); got != tc.want {
				t.Errorf("kind = %q, want %q (err = %v)", got, tc.want, err)
			}
		})
	}
}

func TestParseAPIErrorRetryAfter(t *testing.T) {
	t.Parallel()

	err := ParseAPIError("p", errResp(429, "", map[string]string{"Retry-After": "30"}))
	if got := gateway.RetryAfterOf(err); got != 30*time.Second {
		t.Errorf("retry after = %v", got)
	}

	// HTTP-date form resolves to a positive duration.
	date := time.Now().Add(45 * time.Second).UTC().Format(http.TimeFormat)
	err = ParseAPIError("p", errResp(429, "", map[string]string{"Retry-After": date}))
	if got := gateway.RetryAfterOf(err); got <= 0 || got > 46*time.Second {
		t.Errorf("retry after from date = %v", got)
	}

	// Non-429 statuses never carry a hint.
	err = ParseAPIError("p", errResp(500, "", map[string]string{"Retry-After": "30"}))
	if got := gateway.RetryAfterOf(err); got != 0 {
		t.Errorf("retry after on 500 = %v", got)
	}
}

func TestParseAPIErrorMessageFallbacks(t *testing.T) {
	t.Parallel()

	err := ParseAPIError("p", errResp(500, `{"message":"flat message"}`, nil))
	if !strings.Contains(err.Error(), "flat message") {
		t.Errorf("err = %v", err)
	}

	err = ParseAPIError("p", errResp(500, "plain text body", nil))
	if !strings.Contains(err.Error(), "plain text body") {
		t.Errorf("err = %v", err)
	}

	err = ParseAPIError("p", errResp(503, "", nil))
	if !strings.Contains(err.Error(), http.StatusText(503)) {
		t.Errorf("err = %v", err)
	}
}

func TestWrapTransportErr(t *testing.T) {
	t.Parallel()

	err := WrapTransportErr("p", io.ErrUnexpectedEOF)
	if gateway.KindOf(err) != gateway.KindProviderUnavailable {
		t.Errorf("kind = %q", gateway.KindOf(err))
	}
	if !strings.HasPrefix(err.Error(), "provider_unavailable: p: ") {
		t.Errorf("err = %v", err)
	}
}
