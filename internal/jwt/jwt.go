package jwt

import (
	"context"
	"errors"
	"net/http"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/reqctx"
	"github.com/rs/zerolog"
)

// Middleware returns HTTP middleware that extracts the bearer token and
// verifies it. On success the verified claims are set on the request context
// (see ClaimsFromContext) and the subject is recorded as the user of the
// request's RequestContext.
func Middleware(verifier *Verifier, options ...jwtmiddleware.Option) func(http.Handler) http.Handler {
	// OPTIONS requests are not exempt from verification
	options = append([]jwtmiddleware.Option{jwtmiddleware.WithValidateOnOptions(true)}, options...)

	checker := jwtmiddleware.New(verifier.ValidateToken, options...)

	return func(next http.Handler) http.Handler {
		return checker.CheckJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			claims := ClaimsFromContext(ctx)
			if claims == nil {
				// unreachable unless the middleware contract changes
				panic("token claims not present in context after verification")
			}

			entry := audit.Log(ctx)
			entry.Authorized = true
			entry.AuthSubject = claims.Subject
			entry.AuthIssuer = claims.Issuer
			entry.AuthExpirySecs = claims.ExpiresAt.Unix()

			rc, _ := reqctx.FromContext(ctx)
			ctx = reqctx.NewContext(ctx, rc.WithUser(claims.Subject))

			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

// LogErrorHandler records the internal reason for a failed verification in
// the log and the audit entry, then hands off to respond. The reason must
// never be written to the client.
func LogErrorHandler(respond jwtmiddleware.ErrorHandler) jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		reason, ok := ReasonOf(err)
		if !ok {
			reason = ReasonMalformed
			if errors.Is(err, jwtmiddleware.ErrJWTMissing) {
				reason = ReasonMissingToken
			}
		}

		zerolog.Ctx(r.Context()).Info().
			Err(err).
			Str("reason", string(reason)).
			Msg("token verification failed")

		entry := audit.Log(r.Context())
		entry.Reason = string(reason)
		entry.Error = err.Error()

		respond(w, r, err)
	}
}

// ClaimsFromContext returns the verified claims set by the middleware, or nil
// if the request has not passed verification.
func ClaimsFromContext(ctx context.Context) *TokenClaims {
	claims, _ := ctx.Value(jwtmiddleware.ContextKey{}).(*TokenClaims)
	return claims
}

// ContextWithClaims stores claims the way the middleware does.
func ContextWithClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, jwtmiddleware.ContextKey{}, claims)
}
