// CLAUDE:SUMMARY Backend interface plus key builders shared by crawl and aggregate caching.
// Package rescache is the TTL result cache used to avoid redundant plugin
// invocations. Crawl writes per-call results through it; aggregate caches
// whole catalog snapshots in it.
//
// Two backends ship: an in-process Memory store and a Redis store for
// deployments where several daemon instances share one cache.
package rescache

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Backend is any TTL-capable keyed store. Values are opaque bytes;
// serialization is the caller's concern.
type Backend interface {
	// Get returns the value and true on a live hit, or nil and false on a
	// miss or expired entry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Key joins parts into a cache key. Parts must not contain '|'.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// RequestKey builds the identity key for a (site, method, params) call.
// Params are serialized in sorted order so that equal maps always produce
// equal keys — this key doubles as the single-flight identity in crawl.
func RequestKey(siteKey, method string, params map[string]string) string {
	if len(params) == 0 {
		return Key("call", siteKey, method)
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return Key("call", siteKey, method, b.String())
}
