// Package reqctx holds the identity, tenant and role state established by the
// gateway's pipeline for a single request. Values are immutable: each stage
// derives a new RequestContext from the previous one.
//
// A RequestContext is never built from inbound headers. The trust headers it
// writes are only ever produced here, from values set by the pipeline.
package reqctx

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

// Trust headers asserted by the gateway to downstream services.
const (
	HeaderUserID     = "X-User-ID"
	HeaderTenantID   = "X-Org-ID"
	HeaderTenantSlug = "X-Org-Slug"
	HeaderRoles      = "X-User-Roles"
	HeaderMemberType = "X-Member-Type"
)

// TrustHeaders lists every header the gateway asserts. Inbound copies of these
// are always discarded.
var TrustHeaders = []string{
	HeaderUserID,
	HeaderTenantID,
	HeaderTenantSlug,
	HeaderRoles,
	HeaderMemberType,
}

type RequestContext struct {
	userID        string
	tenantID      string
	tenantSlug    string
	roles         []string
	rolesResolved bool
	memberType    string
}

func (rc RequestContext) WithUser(userID string) RequestContext {
	rc.roles = slices.Clone(rc.roles)
	rc.userID = userID
	return rc
}

// WithTenant records the resolved tenant id and the path segment it was
// resolved from.
func (rc RequestContext) WithTenant(tenantID, slug string) RequestContext {
	rc.roles = slices.Clone(rc.roles)
	rc.tenantID = tenantID
	rc.tenantSlug = slug
	return rc
}

// WithMembership records the roles granted within the tenant. An empty role
// list still marks the membership as resolved.
func (rc RequestContext) WithMembership(roles []string, memberType string) RequestContext {
	rc.roles = slices.Clone(roles)
	if rc.roles == nil {
		rc.roles = []string{}
	}
	rc.rolesResolved = true
	rc.memberType = memberType
	return rc
}

func (rc RequestContext) UserID() string     { return rc.userID }
func (rc RequestContext) TenantID() string   { return rc.tenantID }
func (rc RequestContext) TenantSlug() string { return rc.tenantSlug }
func (rc RequestContext) MemberType() string { return rc.memberType }

func (rc RequestContext) Roles() []string {
	return slices.Clone(rc.roles)
}

// Complete reports whether user, tenant and membership have all been
// established.
func (rc RequestContext) Complete() bool {
	return rc.userID != "" && rc.tenantID != "" && rc.rolesResolved
}

// Apply writes the trust headers for the populated fields, replacing any
// values already present. Headers for unpopulated fields are removed.
func (rc RequestContext) Apply(h http.Header) {
	Strip(h)

	set := func(name, value string) {
		if value != "" {
			h.Set(name, value)
		}
	}

	set(HeaderUserID, rc.userID)
	set(HeaderTenantID, rc.tenantID)
	set(HeaderTenantSlug, rc.tenantSlug)
	if rc.rolesResolved {
		h.Set(HeaderRoles, strings.Join(rc.roles, ","))
	}
	set(HeaderMemberType, rc.memberType)
}

// Metadata returns the populated fields keyed by lower-cased header name,
// for transports that do not carry HTTP headers.
func (rc RequestContext) Metadata() map[string]string {
	h := http.Header{}
	rc.Apply(h)

	md := make(map[string]string, len(h))
	for k := range h {
		md[strings.ToLower(k)] = h.Get(k)
	}
	return md
}

// Strip removes every trust header from h.
func Strip(h http.Header) {
	for _, name := range TrustHeaders {
		h.Del(name)
	}
}

type key struct{}

func NewContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, key{}, rc)
}

// FromContext returns the RequestContext stored in ctx. The zero value is
// returned when none is present.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(key{}).(RequestContext)
	return rc, ok
}
