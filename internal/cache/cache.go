// Package cache provides the TTL-bounded key/value caches shared by the
// gateway's pipeline stages. Entries are never returned after their TTL has
// elapsed; backend failures surface as misses.
package cache

import "context"

// Cache is a TTL-aware read-through store. Concurrent Set calls for the same
// key are last-write-wins.
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V)
}
