package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisClient is the subset of the go-redis API used by the cache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis stores JSON-encoded values in Redis with a per-entry TTL. It allows
// several gateway instances to share tenant and membership lookups; each
// entry still expires after its TTL.
type Redis[V any] struct {
	name   string
	prefix string
	ttl    time.Duration
	client RedisClient
}

var _ Cache[string, string] = (*Redis[string])(nil)

func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	opt.PoolSize = poolSize

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedis[V any](name string, client RedisClient, ttl time.Duration) (*Redis[V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache %s: ttl must be positive", name)
	}

	return &Redis[V]{
		name:   name,
		prefix: "gateway:" + name + ":",
		ttl:    ttl,
		client: client,
	}, nil
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var value V

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		recordLookup(ctx, r.name, false)
		return value, false
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cache", r.name).Msg("cache read failed, treating as miss")
		recordLookup(ctx, r.name, false)
		return value, false
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cache", r.name).Msg("cache entry undecodable, treating as miss")
		recordLookup(ctx, r.name, false)
		return value, false
	}

	recordLookup(ctx, r.name, true)
	return value, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V) {
	data, err := json.Marshal(value)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cache", r.name).Msg("cache entry not encodable")
		return
	}

	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cache", r.name).Msg("cache write failed")
	}
}
