package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reason classifies a token rejection. Reasons are recorded in logs and the
// audit entry, and never returned to the client.
type Reason string

const (
	ReasonMissingToken   Reason = "missing_token"
	ReasonMalformed      Reason = "malformed"
	ReasonIssuer         Reason = "issuer_mismatch"
	ReasonExpired        Reason = "expired"
	ReasonMissingSubject Reason = "missing_subject"
	ReasonMissingKeyID   Reason = "missing_kid"
	ReasonUnknownKey     Reason = "unknown_key"
	ReasonSignature      Reason = "bad_signature"
)

// RejectedError is returned for every token that fails verification.
type RejectedError struct {
	Reason Reason
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err == nil {
		return "token rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("token rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func reject(reason Reason, err error) *RejectedError {
	return &RejectedError{Reason: reason, Err: err}
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}

// TokenClaims is the identity asserted by a verified token.
type TokenClaims struct {
	Subject   string
	TenantID  string
	Roles     []string
	Issuer    string
	ExpiresAt time.Time
}

// KeyResolver resolves a key id to a verification key.
type KeyResolver interface {
	GetKey(ctx context.Context, kid string) (SigningKey, error)
}

type Verifier struct {
	issuer string
	skew   time.Duration
	keys   KeyResolver
	now    func() time.Time
}

type VerifierOption func(*Verifier)

// WithAllowedClockSkew extends the expiry check by skew.
func WithAllowedClockSkew(skew time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.skew = skew
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

func NewVerifier(issuer string, keys KeyResolver, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		issuer: issuer,
		keys:   keys,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the token's structure and claims before its signature, so a
// token that is expired, foreign or anonymous never causes a key lookup.
func (v *Verifier) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	if token == "" {
		return nil, reject(ReasonMissingToken, nil)
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, reject(ReasonMalformed, fmt.Errorf("expected 3 segments, got %d", len(segments)))
	}
	for _, s := range segments {
		if s == "" {
			return nil, reject(ReasonMalformed, errors.New("empty segment"))
		}
	}

	claims := jwt.MapClaims{}
	unverified, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, reject(ReasonMalformed, err)
	}

	issuer, err := claims.GetIssuer()
	if err != nil {
		return nil, reject(ReasonMalformed, err)
	}
	if issuer != v.issuer {
		return nil, reject(ReasonIssuer, fmt.Errorf("unexpected issuer %q", issuer))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, reject(ReasonExpired, err)
	}
	if exp == nil {
		return nil, reject(ReasonExpired, errors.New("no expiry"))
	}
	if !v.now().Before(exp.Add(v.skew)) {
		return nil, reject(ReasonExpired, fmt.Errorf("expired at %s", exp.UTC().Format(time.RFC3339)))
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return nil, reject(ReasonMalformed, err)
	}
	if strings.TrimSpace(subject) == "" {
		return nil, reject(ReasonMissingSubject, nil)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, reject(ReasonMissingKeyID, nil)
	}

	key, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		return nil, reject(ReasonUnknownKey, err)
	}

	// claims were validated above against the injected clock
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err = parser.Parse(token, func(*jwt.Token) (any, error) {
		return key.Key, nil
	})
	if err != nil {
		return nil, reject(ReasonSignature, err)
	}

	tenantID, _ := claims["org_id"].(string)

	return &TokenClaims{
		Subject:   subject,
		TenantID:  tenantID,
		Roles:     rolesClaim(claims["roles"]),
		Issuer:    issuer,
		ExpiresAt: exp.Time,
	}, nil
}

// ValidateToken adapts Verify to the signature expected by the JWT middleware.
func (v *Verifier) ValidateToken(ctx context.Context, token string) (any, error) {
	return v.Verify(ctx, token)
}

// rolesClaim accepts a single role or a list of roles.
func rolesClaim(raw any) []string {
	switch r := raw.(type) {
	case string:
		if r == "" {
			return nil
		}
		return []string{r}
	case []any:
		roles := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return nil
	}
}
