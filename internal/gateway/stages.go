package gateway

import (
	"context"
	"errors"
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/jwt"
	"github.com/orgspace/edge-gateway/internal/membership"
	"github.com/orgspace/edge-gateway/internal/reqctx"
	"github.com/orgspace/edge-gateway/internal/tenant"
)

// Stage is a pipeline step a route requires before dispatch. Stages always
// run in the order Verify, ResolveTenant, Authorize.
type Stage string

const (
	StageVerify        Stage = "verify"
	StageResolveTenant Stage = "resolve-tenant"
	StageAuthorize     Stage = "authorize"
)

// TenantStages is the full pipeline required by every tenant-scoped route.
var TenantStages = []Stage{StageVerify, StageResolveTenant, StageAuthorize}

// TenantVar is the route variable holding the tenant slug or id.
const TenantVar = "tenant"

var (
	errNoUser   = errors.New("tenant resolution reached without a verified user")
	errNoTenant = errors.New("tenant route variable missing")
	errPartial  = errors.New("request context incomplete at tenant dispatch")
)

// TenantResolver maps a path segment to a tenant id.
type TenantResolver interface {
	Resolve(ctx context.Context, segment, userID string) (string, error)
}

// MembershipAuthorizer looks up the caller's membership of a tenant.
type MembershipAuthorizer interface {
	Authorize(ctx context.Context, userID, tenantID string) (membership.Membership, error)
}

// Sanitize removes client-supplied trust headers and starts the request with
// an empty RequestContext. It runs first on every route.
func Sanitize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqctx.Strip(r.Header)

		ctx := reqctx.NewContext(r.Context(), reqctx.RequestContext{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify checks the bearer token. All failures produce the same
// Unauthenticated response.
func Verify(verifier *jwt.Verifier) alice.Constructor {
	return jwt.Middleware(verifier,
		jwtmiddleware.WithErrorHandler(jwt.LogErrorHandler(WriteUnauthenticated)),
	)
}

// ResolveTenant resolves the tenant path segment for the verified user.
func ResolveTenant(resolver TenantResolver) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			rc, _ := reqctx.FromContext(ctx)
			if rc.UserID() == "" {
				WriteError(w, r, newError(BadRequest, errNoUser))
				return
			}

			segment, ok := mux.Vars(r)[TenantVar]
			if !ok || segment == "" {
				WriteError(w, r, newError(BadRequest, errNoTenant))
				return
			}

			entry := audit.Log(ctx)
			entry.TenantSlug = segment

			tenantID, err := resolver.Resolve(ctx, segment, rc.UserID())
			if err != nil {
				WriteError(w, r, tenantError(segment, err))
				return
			}

			entry.TenantID = tenantID

			// forward the slug in the form it was resolved and cached under
			slug := tenant.Normalize(segment)
			if tenant.IsTenantID(segment) {
				slug = ""
			}

			ctx = reqctx.NewContext(ctx, rc.WithTenant(tenantID, slug))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tenantError(segment string, err error) *Error {
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return tenantNotFound(segment, err)
	case errors.Is(err, tenant.ErrForbidden):
		return newError(Forbidden, err)
	default:
		return newError(UpstreamUnavailable, err)
	}
}

// Authorize requires the verified user to be a member of the resolved
// tenant. Any failure to prove membership is Forbidden.
func Authorize(authorizer MembershipAuthorizer) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rc, _ := reqctx.FromContext(ctx)

			m, err := authorizer.Authorize(ctx, rc.UserID(), rc.TenantID())
			if err != nil {
				kind := Forbidden
				if errors.Is(err, membership.ErrMissingContext) {
					kind = BadRequest
				}
				WriteError(w, r, newError(kind, err))
				return
			}

			entry := audit.Log(ctx)
			entry.Roles = m.Roles
			entry.MemberType = m.MemberType

			ctx = reqctx.NewContext(ctx, rc.WithMembership(m.Roles, m.MemberType))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireComplete guards tenant dispatch: the request must carry a user, a
// tenant and resolved roles.
func requireComplete(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, _ := reqctx.FromContext(r.Context())
		if !rc.Complete() {
			WriteError(w, r, newError(BadRequest, errPartial))
			return
		}

		next.ServeHTTP(w, r)
	})
}
