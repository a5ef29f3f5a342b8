package jwt

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/orgspace/edge-gateway/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuer = "identity"

func TestVerify_Valid(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "k1")
	keys := staticKeys(jwk)
	verifier := NewVerifier(issuer, keys)

	claims := testhelpers.ValidClaims(issuer, "u1")
	claims.OrgID = "org-42"
	claims.Roles = []string{"MEMBER", "ADMIN"}

	verified, err := verifier.Verify(context.Background(), testhelpers.MintToken(t, jwk, claims))
	require.NoError(t, err)

	assert.Equal(t, "u1", verified.Subject)
	assert.Equal(t, "org-42", verified.TenantID)
	assert.Equal(t, []string{"MEMBER", "ADMIN"}, verified.Roles)
	assert.Equal(t, issuer, verified.Issuer)
	assert.Equal(t, claims.Expiry.Time().Unix(), verified.ExpiresAt.Unix())
	assert.Equal(t, []string{"k1"}, keys.lookups)
}

func TestVerify_SingleRole(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "k1")
	verifier := NewVerifier(issuer, staticKeys(jwk))

	claims := testhelpers.ValidClaims(issuer, "u1")
	claims.Roles = "OWNER"

	verified, err := verifier.Verify(context.Background(), testhelpers.MintToken(t, jwk, claims))
	require.NoError(t, err)
	assert.Equal(t, []string{"OWNER"}, verified.Roles)
	assert.Empty(t, verified.TenantID)
}

func TestVerify_Rejections(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "k1")
	imposter := testhelpers.GenerateJWK(t, "k1")
	unknown := testhelpers.GenerateJWK(t, "k9")
	noKid := testhelpers.GenerateJWK(t, "")

	now := time.Now().UTC()

	expired := testhelpers.ValidClaims(issuer, "u1")
	expired.Expiry = josejwt.NewNumericDate(now.Add(-time.Minute))

	noExpiry := testhelpers.ValidClaims(issuer, "u1")
	noExpiry.Expiry = nil

	noSubject := testhelpers.ValidClaims(issuer, "")

	cases := []struct {
		name        string
		token       string
		reason      Reason
		keyLookedUp bool
	}{
		{
			name:   "empty",
			token:  "",
			reason: ReasonMissingToken,
		},
		{
			name:   "two segments",
			token:  "abc.def",
			reason: ReasonMalformed,
		},
		{
			name:   "empty segment",
			token:  "abc..def",
			reason: ReasonMalformed,
		},
		{
			name:   "undecodable segments",
			token:  "!!!.@@@.###",
			reason: ReasonMalformed,
		},
		{
			name:   "foreign issuer with valid signature",
			token:  testhelpers.MintToken(t, jwk, testhelpers.ValidClaims("someone-else", "u1")),
			reason: ReasonIssuer,
		},
		{
			name:   "expired",
			token:  testhelpers.MintToken(t, jwk, expired),
			reason: ReasonExpired,
		},
		{
			name:   "no expiry",
			token:  testhelpers.MintToken(t, jwk, noExpiry),
			reason: ReasonExpired,
		},
		{
			name: "non-numeric expiry",
			token: testhelpers.MintToken(t, jwk, map[string]any{
				"iss": issuer,
				"sub": "u1",
				"exp": "tomorrow",
			}),
			reason: ReasonExpired,
		},
		{
			name:   "no subject",
			token:  testhelpers.MintToken(t, jwk, noSubject),
			reason: ReasonMissingSubject,
		},
		{
			name:   "no kid",
			token:  testhelpers.MintToken(t, noKid, testhelpers.ValidClaims(issuer, "u1")),
			reason: ReasonMissingKeyID,
		},
		{
			name:        "unknown kid",
			token:       testhelpers.MintToken(t, unknown, testhelpers.ValidClaims(issuer, "u1")),
			reason:      ReasonUnknownKey,
			keyLookedUp: true,
		},
		{
			name:        "signed by another key with the same kid",
			token:       testhelpers.MintToken(t, imposter, testhelpers.ValidClaims(issuer, "u1")),
			reason:      ReasonSignature,
			keyLookedUp: true,
		},
		{
			name:        "symmetric algorithm",
			token:       hmacToken(t, testhelpers.ValidClaims(issuer, "u1")),
			reason:      ReasonSignature,
			keyLookedUp: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keys := staticKeys(jwk)
			verifier := NewVerifier(issuer, keys)

			claims, err := verifier.Verify(context.Background(), tc.token)
			require.Error(t, err)
			assert.Nil(t, claims)

			reason, ok := ReasonOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.reason, reason)

			if tc.keyLookedUp {
				assert.NotEmpty(t, keys.lookups)
			} else {
				assert.Empty(t, keys.lookups)
			}
		})
	}
}

func TestVerify_SymmetricTokenWithKnownKeyID(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "k1")
	keys := staticKeys(jwk)
	verifier := NewVerifier(issuer, keys)

	_, err := verifier.Verify(context.Background(), hmacToken(t, testhelpers.ValidClaims(issuer, "u1")))
	require.Error(t, err)

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSignature, reason)
	assert.Equal(t, []string{"k1"}, keys.lookups)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "k1")

	exp := time.Date(2024, time.May, 7, 18, 0, 0, 0, time.UTC)
	claims := testhelpers.ValidClaims(issuer, "u1")
	claims.Expiry = josejwt.NewNumericDate(exp)
	token := testhelpers.MintToken(t, jwk, claims)

	before := NewVerifier(issuer, staticKeys(jwk), WithClock(func() time.Time { return exp.Add(-time.Second) }))
	_, err := before.Verify(context.Background(), token)
	assert.NoError(t, err)

	at := NewVerifier(issuer, staticKeys(jwk), WithClock(func() time.Time { return exp }))
	_, err = at.Verify(context.Background(), token)
	reason, _ := ReasonOf(err)
	assert.Equal(t, ReasonExpired, reason)

	skewed := NewVerifier(issuer, staticKeys(jwk),
		WithClock(func() time.Time { return exp.Add(5 * time.Second) }),
		WithAllowedClockSkew(10*time.Second),
	)
	_, err = skewed.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestValidateToken(t *testing.T) {
	jwk := testhelpers.GenerateJWK(t, "k1")
	verifier := NewVerifier(issuer, staticKeys(jwk))

	result, err := verifier.ValidateToken(context.Background(), testhelpers.MintToken(t, jwk, testhelpers.ValidClaims(issuer, "u1")))
	require.NoError(t, err)

	claims, ok := result.(*TokenClaims)
	require.True(t, ok)
	assert.Equal(t, "u1", claims.Subject)
}

type fakeKeys struct {
	keys    map[string]SigningKey
	lookups []string
}

func staticKeys(jwks ...*jose.JSONWebKey) *fakeKeys {
	f := &fakeKeys{keys: map[string]SigningKey{}}
	for _, jwk := range jwks {
		pub := jwk.Public()
		f.keys[jwk.KeyID] = SigningKey{KID: jwk.KeyID, Key: pub.Key.(*rsa.PublicKey)}
	}
	return f
}

func (f *fakeKeys) GetKey(_ context.Context, kid string) (SigningKey, error) {
	f.lookups = append(f.lookups, kid)
	key, ok := f.keys[kid]
	if !ok {
		return SigningKey{}, ErrKeyNotFound
	}
	return key, nil
}

func hmacToken(t *testing.T, claims any) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte("0123456789abcdef0123456789abcdef"),
	}, (&jose.SignerOptions{}).WithType("JWT").WithHeader(jose.HeaderKey("kid"), "k1"))
	require.NoError(t, err)

	token, err := josejwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return token
}
