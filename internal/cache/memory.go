package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter"
)

// Memory is an in-process cache with a fixed TTL per entry. The cache is
// non-locking, so concurrent misses for the same key each populate it and
// the last write wins.
type Memory[K comparable, V any] struct {
	name  string
	cache otter.Cache[K, V]
}

var _ Cache[string, string] = (*Memory[string, string])(nil)

// NewMemory builds a cache holding up to capacity entries, each expiring ttl
// after it was written.
func NewMemory[K comparable, V any](name string, capacity int, ttl time.Duration) (*Memory[K, V], error) {
	c, err := otter.
		MustBuilder[K, V](capacity).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &Memory[K, V]{name: name, cache: c}, nil
}

func (m *Memory[K, V]) Get(ctx context.Context, key K) (V, bool) {
	v, ok := m.cache.Get(key)
	recordLookup(ctx, m.name, ok)
	return v, ok
}

func (m *Memory[K, V]) Set(_ context.Context, key K, value V) {
	m.cache.Set(key, value)
}

// Close releases the cache's background resources.
func (m *Memory[K, V]) Close() {
	m.cache.Close()
}
