package cloudauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// AWSSigV4Transport signs outbound requests with AWS Signature Version 4.
// SigV4 requires the SHA-256 of the payload, so the body is drained into
// memory once and replayed on the signed clone.
type AWSSigV4Transport struct {
	base    http.RoundTripper
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	region  string
	service string
}

// NewAWSSigV4Transport returns a signing transport for the given region and
// service, e.g. ("us-east-1", "bedrock-runtime").
func NewAWSSigV4Transport(base http.RoundTripper, creds aws.CredentialsProvider, region, service string) *AWSSigV4Transport {
	return &AWSSigV4Transport{
		base:    base,
		creds:   creds,
		signer:  v4.NewSigner(),
		region:  region,
		service: service,
	}
}

func (t *AWSSigV4Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	body, err := drainBody(r)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: read body for signing: %w", err)
	}

	r2 := r.Clone(r.Context())
	if len(body) > 0 {
		r2.Body = io.NopCloser(bytes.NewReader(body))
		r2.ContentLength = int64(len(body))
	} else {
		r2.Body = http.NoBody
		r2.ContentLength = 0
	}

	creds, err := t.creds.Retrieve(r.Context())
	if err != nil {
		return nil, fmt.Errorf("cloudauth: retrieve AWS credentials: %w", err)
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	if err := t.signer.SignHTTP(r.Context(), creds, r2, hash, t.service, t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("cloudauth: sign request: %w", err)
	}

	return orDefault(t.base).RoundTrip(r2)
}

func drainBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
