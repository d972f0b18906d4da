package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Fingerprint derives the cache key for a request. The principal is part of
// the key so one caller can never read another caller's cached response.
// Query parameters are sorted so equivalent URLs collide.
func Fingerprint(method, route string, query url.Values, body []byte, principal string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(route))
	h.Write([]byte{'|'})
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{'|'})
	h.Write(body)
	h.Write([]byte{'|'})
	h.Write([]byte(principal))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}
