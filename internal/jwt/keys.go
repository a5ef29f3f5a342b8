package jwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/orgspace/edge-gateway/internal/cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound is returned when a key id cannot be resolved to a usable
// verification key. Fetch failures are reported the same way: callers must
// not be able to distinguish an unreachable key source from a forged kid.
var ErrKeyNotFound = errors.New("signing key not found")

// SigningKey is a public key published by the identity service.
type SigningKey struct {
	KID string
	Key *rsa.PublicKey
}

// KeySource supplies the identity service's current key set.
type KeySource interface {
	SigningKeys(ctx context.Context) ([]jose.JSONWebKey, error)
}

// KeyCache resolves key ids to public keys, fetching the full key set from
// the source on a miss. Unknown ids are not cached.
type KeyCache struct {
	source       KeySource
	cache        cache.Cache[string, SigningKey]
	fetchTimeout time.Duration

	fetches singleflight.Group
}

func NewKeyCache(source KeySource, keys cache.Cache[string, SigningKey], fetchTimeout time.Duration) *KeyCache {
	return &KeyCache{
		source:       source,
		cache:        keys,
		fetchTimeout: fetchTimeout,
	}
}

func (k *KeyCache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	if key, ok := k.cache.Get(ctx, kid); ok {
		return key, nil
	}

	// concurrent misses share one upstream fetch
	result, err, _ := k.fetches.Do("keys", func() (any, error) {
		return k.refresh(ctx)
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("kid", kid).Msg("signing key fetch failed")
		return SigningKey{}, fmt.Errorf("%w: %w", ErrKeyNotFound, err)
	}

	key, ok := result.(map[string]SigningKey)[kid]
	if !ok {
		return SigningKey{}, ErrKeyNotFound
	}

	return key, nil
}

// refresh fetches the key set and caches every usable key in it. The fetch is
// detached from the caller's cancellation as its result is shared, but is
// still bounded by the fetch timeout.
func (k *KeyCache) refresh(ctx context.Context) (map[string]SigningKey, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.fetchTimeout)
	defer cancel()

	set, err := k.source.SigningKeys(fetchCtx)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]SigningKey, len(set))
	for _, jwk := range set {
		if jwk.KeyID == "" || jwk.Use == "enc" {
			continue
		}

		pub, ok := jwk.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}

		key := SigningKey{KID: jwk.KeyID, Key: pub}
		keys[key.KID] = key
		k.cache.Set(ctx, key.KID, key)
	}

	zerolog.Ctx(ctx).Debug().Int("keys", len(keys)).Msg("signing keys refreshed")

	return keys, nil
}
