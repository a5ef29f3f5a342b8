// Package identity is the gateway's client for the identity service: signing
// key discovery, tenant slug resolution and membership lookup.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when the identity service has no record of the
	// requested tenant or membership.
	ErrNotFound = errors.New("identity: not found")

	// ErrForbidden is returned when the identity service refuses the caller
	// access to the requested tenant.
	ErrForbidden = errors.New("identity: forbidden")
)

// Membership is the identity service's record of a user within a tenant.
type Membership struct {
	UserID     string   `json:"user_id"`
	TenantID   string   `json:"org_id"`
	Roles      []string `json:"roles"`
	MemberType string   `json:"member_type"`
}

type Client struct {
	http    *resty.Client
	jwksURL string
}

// New creates a client for the identity service at baseURL. Every call is
// bounded by timeout. The transport is shared with the rest of the process so
// outbound telemetry applies.
func New(baseURL, jwksURL string, timeout time.Duration, transport http.RoundTripper) *Client {
	c := resty.NewWithClient(&http.Client{Transport: transport}).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    c,
		jwksURL: jwksURL,
	}
}

// SigningKeys fetches the current key set. Keys that cannot be decoded are
// skipped rather than failing the whole set.
func (c *Client) SigningKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&set).
		ExpectContentType("application/json").
		Get(c.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("key set request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("key set request failed: status %d", resp.StatusCode())
	}

	keys := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, raw := range set.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("skipping undecodable signing key")
			continue
		}
		keys = append(keys, k)
	}

	return keys, nil
}

// ResolveSlug returns the tenant id for slug on behalf of userID.
func (c *Client) ResolveSlug(ctx context.Context, slug, userID string) (string, error) {
	var result struct {
		OrgID string `json:"org_id"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetHeader("X-User-ID", userID).
		SetResult(&result).
		ExpectContentType("application/json").
		Get("/orgs/resolve")
	if err != nil {
		return "", fmt.Errorf("slug resolution failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if result.OrgID == "" {
			return "", errors.New("slug resolution failed: response has no org_id")
		}
		return result.OrgID, nil
	case http.StatusNotFound:
		return "", ErrNotFound
	case http.StatusForbidden:
		return "", ErrForbidden
	default:
		return "", fmt.Errorf("slug resolution failed: status %d", resp.StatusCode())
	}
}

// Membership returns the membership of userID in tenantID, or ErrNotFound
// when there is none.
func (c *Client) Membership(ctx context.Context, userID, tenantID string) (Membership, error) {
	var m Membership

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user_id": userID,
			"org_id":  tenantID,
		}).
		SetResult(&m).
		ExpectContentType("application/json").
		Get("/internal/memberships")
	if err != nil {
		return Membership{}, fmt.Errorf("membership lookup failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return m, nil
	case http.StatusNotFound:
		return Membership{}, ErrNotFound
	default:
		return Membership{}, fmt.Errorf("membership lookup failed: status %d", resp.StatusCode())
	}
}
