package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// memEntry carries the payload plus its own deadline so callers can mix
// per-entry TTLs under a single otter instance.
type memEntry struct {
	payload  []byte
	deadline int64 // unix nanos
}

// Memory caches responses in-process under otter's W-TinyLFU admission
// policy. Expired entries are dropped lazily on read.
type Memory struct {
	entries *otter.Cache[string, memEntry]
}

// NewMemory creates a bounded in-process cache. defaultTTL is the write
// expiry otter enforces; Set may shorten it per entry but never extend it.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	c, err := otter.New[string, memEntry](&otter.Options[string, memEntry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, memEntry](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{entries: c}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.entries.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if e.deadline < time.Now().UnixNano() {
		m.entries.Invalidate(key)
		return nil, false
	}
	return e.payload, true
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	m.entries.Set(key, memEntry{
		payload:  val,
		deadline: time.Now().Add(ttl).UnixNano(),
	})
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.entries.Invalidate(key)
}

func (m *Memory) Purge(_ context.Context) {
	m.entries.InvalidateAll()
}
