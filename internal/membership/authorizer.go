// Package membership decides whether a verified user may act within a
// resolved tenant.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/orgspace/edge-gateway/internal/cache"
	"github.com/orgspace/edge-gateway/internal/identity"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingContext is returned when the user or tenant has not been
	// established. It indicates a misconfigured pipeline, not a denial.
	ErrMissingContext = errors.New("membership check requires a user and a tenant")

	// ErrDenied is returned when no membership can be proven.
	ErrDenied = errors.New("membership denied")
)

// Membership is the user's standing within a tenant.
type Membership struct {
	Roles      []string `json:"roles"`
	MemberType string   `json:"member_type"`
}

// Lookup fetches the authoritative membership record.
type Lookup interface {
	Membership(ctx context.Context, userID, tenantID string) (identity.Membership, error)
}

type Authorizer struct {
	upstream Lookup
	cache    cache.Cache[string, Membership]
}

func NewAuthorizer(upstream Lookup, memberships cache.Cache[string, Membership]) *Authorizer {
	return &Authorizer{
		upstream: upstream,
		cache:    memberships,
	}
}

// Authorize returns the membership of userID in tenantID. Both an absent
// record and a failed lookup deny: the caller cannot tell them apart.
func (a *Authorizer) Authorize(ctx context.Context, userID, tenantID string) (Membership, error) {
	if userID == "" || tenantID == "" {
		return Membership{}, ErrMissingContext
	}

	key := cacheKey(userID, tenantID)

	if m, ok := a.cache.Get(ctx, key); ok {
		return m, nil
	}

	record, err := a.upstream.Membership(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Membership{}, ErrDenied
		}

		zerolog.Ctx(ctx).Warn().Err(err).
			Str("userID", userID).
			Str("tenantID", tenantID).
			Msg("membership lookup failed, denying")

		return Membership{}, fmt.Errorf("%w: %w", ErrDenied, err)
	}

	m := Membership{
		Roles:      record.Roles,
		MemberType: record.MemberType,
	}
	if m.Roles == nil {
		m.Roles = []string{}
	}

	a.cache.Set(ctx, key, m)

	return m, nil
}

// cacheKey length-prefixes the user id so that no pair of ids shares a key.
func cacheKey(userID, tenantID string) string {
	return fmt.Sprintf("%d:%s|%s", len(userID), userID, tenantID)
}
