package reqctx_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/orgspace/edge-gateway/internal/reqctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContext_WithReturnsCopies(t *testing.T) {
	base := reqctx.RequestContext{}

	withUser := base.WithUser("u1")
	withTenant := withUser.WithTenant("t1", "acme")

	assert.Empty(t, base.UserID())
	assert.Equal(t, "u1", withUser.UserID())
	assert.Empty(t, withUser.TenantID())
	assert.Equal(t, "u1", withTenant.UserID())
	assert.Equal(t, "t1", withTenant.TenantID())
	assert.Equal(t, "acme", withTenant.TenantSlug())
}

func TestRequestContext_RolesAreNotAliased(t *testing.T) {
	roles := []string{"MEMBER"}
	rc := reqctx.RequestContext{}.WithMembership(roles, "member")

	roles[0] = "OWNER"
	assert.Equal(t, []string{"MEMBER"}, rc.Roles())

	got := rc.Roles()
	got[0] = "ADMIN"
	assert.Equal(t, []string{"MEMBER"}, rc.Roles())

	derived := rc.WithUser("u2")
	assert.Equal(t, []string{"MEMBER"}, derived.Roles())
}

func TestRequestContext_Complete(t *testing.T) {
	rc := reqctx.RequestContext{}
	assert.False(t, rc.Complete())

	rc = rc.WithUser("u1")
	assert.False(t, rc.Complete())

	rc = rc.WithTenant("t1", "t1")
	assert.False(t, rc.Complete())

	// a membership without roles is still a resolved membership
	rc = rc.WithMembership(nil, "guest")
	assert.True(t, rc.Complete())
	assert.Equal(t, []string{}, rc.Roles())
}

func TestRequestContext_Apply(t *testing.T) {
	h := http.Header{}
	h.Set(reqctx.HeaderUserID, "forged")
	h.Set(reqctx.HeaderMemberType, "owner")
	h.Set("Accept", "application/json")

	rc := reqctx.RequestContext{}.
		WithUser("u1").
		WithTenant("t1", "acme").
		WithMembership([]string{"MEMBER", "EDITOR"}, "")

	rc.Apply(h)

	assert.Equal(t, "u1", h.Get(reqctx.HeaderUserID))
	assert.Equal(t, "t1", h.Get(reqctx.HeaderTenantID))
	assert.Equal(t, "acme", h.Get(reqctx.HeaderTenantSlug))
	assert.Equal(t, "MEMBER,EDITOR", h.Get(reqctx.HeaderRoles))
	assert.Empty(t, h.Values(reqctx.HeaderMemberType))
	assert.Equal(t, "application/json", h.Get("Accept"))
}

func TestRequestContext_ApplyUserOnly(t *testing.T) {
	h := http.Header{}
	h.Set(reqctx.HeaderRoles, "OWNER")

	reqctx.RequestContext{}.WithUser("u1").Apply(h)

	assert.Equal(t, "u1", h.Get(reqctx.HeaderUserID))
	assert.Empty(t, h.Values(reqctx.HeaderRoles))
	assert.Empty(t, h.Values(reqctx.HeaderTenantID))
}

func TestRequestContext_Metadata(t *testing.T) {
	rc := reqctx.RequestContext{}.
		WithUser("u1").
		WithTenant("t1", "acme").
		WithMembership([]string{"MEMBER"}, "member")

	assert.Equal(t, map[string]string{
		"x-user-id":     "u1",
		"x-org-id":      "t1",
		"x-org-slug":    "acme",
		"x-user-roles":  "MEMBER",
		"x-member-type": "member",
	}, rc.Metadata())
}

func TestStrip(t *testing.T) {
	h := http.Header{}
	for _, name := range reqctx.TrustHeaders {
		h.Add(name, "forged")
	}
	h.Add("x-user-id", "lowercase")
	h.Set("Authorization", "Bearer abc")

	reqctx.Strip(h)

	for _, name := range reqctx.TrustHeaders {
		assert.Empty(t, h.Values(name), name)
	}
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))
}

func TestContext(t *testing.T) {
	_, ok := reqctx.FromContext(context.Background())
	assert.False(t, ok)

	ctx := reqctx.NewContext(context.Background(), reqctx.RequestContext{}.WithUser("u1"))

	rc, ok := reqctx.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", rc.UserID())
}
