package testhelpers

import (
	"context"
	"sync"
	"time"
)

// Clock is a manually advanced clock for TTL tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.May, 7, 17, 59, 36, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeCache satisfies cache.Cache with expiry driven by a Clock, so tests can
// step past a TTL without sleeping.
type FakeCache[K comparable, V any] struct {
	mu      sync.Mutex
	clock   *Clock
	ttl     time.Duration
	entries map[K]fakeEntry[V]

	Gets int
	Sets int
}

type fakeEntry[V any] struct {
	value   V
	expires time.Time
}

func NewFakeCache[K comparable, V any](clock *Clock, ttl time.Duration) *FakeCache[K, V] {
	return &FakeCache[K, V]{
		clock:   clock,
		ttl:     ttl,
		entries: map[K]fakeEntry[V]{},
	}
}

func (f *FakeCache[K, V]) Get(_ context.Context, key K) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Gets++

	e, ok := f.entries[key]
	if !ok || !f.clock.Now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (f *FakeCache[K, V]) Set(_ context.Context, key K, value V) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Sets++
	f.entries[key] = fakeEntry[V]{value: value, expires: f.clock.Now().Add(f.ttl)}
}
