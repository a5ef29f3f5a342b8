// Package tenant maps the tenant segment of a request path to the tenant's
// internal id.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/orgspace/edge-gateway/internal/cache"
	"github.com/orgspace/edge-gateway/internal/identity"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound    = errors.New("tenant not found")
	ErrForbidden   = errors.New("tenant access forbidden")
	ErrUnavailable = errors.New("tenant resolution unavailable")
)

// SlugResolver looks up a tenant id by slug on behalf of a user.
type SlugResolver interface {
	ResolveSlug(ctx context.Context, slug, userID string) (string, error)
}

type Resolver struct {
	upstream SlugResolver
	cache    cache.Cache[string, string]
}

func NewResolver(upstream SlugResolver, slugs cache.Cache[string, string]) *Resolver {
	return &Resolver{
		upstream: upstream,
		cache:    slugs,
	}
}

// Resolve returns the tenant id for segment. A segment that is already a
// tenant id is returned as-is without a lookup. Slugs are resolved through
// the cache, then upstream.
func (r *Resolver) Resolve(ctx context.Context, segment, userID string) (string, error) {
	if IsTenantID(segment) {
		return segment, nil
	}

	slug := Normalize(segment)
	if slug == "" {
		return "", ErrNotFound
	}

	if id, ok := r.cache.Get(ctx, slug); ok {
		return id, nil
	}

	id, err := r.upstream.ResolveSlug(ctx, slug, userID)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotFound):
		return "", ErrNotFound
	case errors.Is(err, identity.ErrForbidden):
		return "", ErrForbidden
	default:
		zerolog.Ctx(ctx).Warn().Err(err).Str("slug", slug).Msg("slug resolution failed")
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	r.cache.Set(ctx, slug, id)

	return id, nil
}

// IsTenantID reports whether s is a tenant id in canonical form.
func IsTenantID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

var (
	slugInvalidRuns = regexp.MustCompile(`[^a-z0-9-]+`)
	slugEdgeDashes  = regexp.MustCompile(`^-+|-+$`)
)

// Normalize applies the identity service's slug rules, so that equivalent
// spellings share a cache entry.
func Normalize(slug string) string {
	s := strings.ToLower(strings.TrimSpace(slug))
	s = slugInvalidRuns.ReplaceAllString(s, "-")
	return slugEdgeDashes.ReplaceAllString(s, "")
}
