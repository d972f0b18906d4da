package cache

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Error("hit on empty cache")
	}
	m.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	m.Delete(ctx, "k")
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("hit after delete")
	}
}

func TestMemoryPerEntryTTL(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Get(ctx, "short"); ok {
		t.Error("entry outlived its TTL")
	}
}

func TestMemoryPurge(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.Set(ctx, "a", []byte("1"), time.Minute)
	m.Set(ctx, "b", []byte("2"), time.Minute)
	m.Purge(ctx)
	if _, ok := m.Get(ctx, "a"); ok {
		t.Error("hit after purge")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	r := NewRedis(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	ctx := context.Background()

	r.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := r.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, ok)
	}

	srv.FastForward(2 * time.Minute)
	if _, ok := r.Get(ctx, "k"); ok {
		t.Error("hit after TTL expiry")
	}

	r.Set(ctx, "a", []byte("1"), time.Minute)
	r.Set(ctx, "b", []byte("2"), time.Minute)
	r.Purge(ctx)
	if _, ok := r.Get(ctx, "a"); ok {
		t.Error("hit after purge")
	}
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()
	body := []byte(`{"prompt":"hi"}`)

	a := Fingerprint("POST", "/v1/inference", url.Values{"a": {"1"}, "b": {"2"}}, body, "key:k1")
	b := Fingerprint("POST", "/v1/inference", url.Values{"b": {"2"}, "a": {"1"}}, body, "key:k1")
	if a != b {
		t.Error("query order changed the fingerprint")
	}
}

func TestFingerprintIsolation(t *testing.T) {
	t.Parallel()
	body := []byte(`{"prompt":"hi"}`)

	base := Fingerprint("POST", "/v1/inference", nil, body, "key:k1")
	cases := map[string]string{
		"principal": Fingerprint("POST", "/v1/inference", nil, body, "key:k2"),
		"body":      Fingerprint("POST", "/v1/inference", nil, []byte(`{"prompt":"yo"}`), "key:k1"),
		"route":     Fingerprint("POST", "/v1/embeddings", nil, body, "key:k1"),
		"method":    Fingerprint("GET", "/v1/inference", nil, body, "key:k1"),
	}
	for name, fp := range cases {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}
