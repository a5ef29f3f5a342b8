package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// GenerateJWK creates an RS256 signing key with the given key id.
func GenerateJWK(t *testing.T, kid string) *jose.JSONWebKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal("failed to generate private key")
	}

	return &jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// JWKS serves the public half of the supplied keys and counts fetches.
type JWKS struct {
	*httptest.Server
	fetches atomic.Int32
}

func (j *JWKS) URL() string {
	return j.Server.URL + "/.well-known/jwks.json"
}

func (j *JWKS) Fetches() int {
	return int(j.fetches.Load())
}

func NewJWKS(t *testing.T, keys ...*jose.JSONWebKey) *JWKS {
	t.Helper()

	j := &JWKS{}
	j.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			t.Errorf("was not expecting to handle the following url: %s", r.URL.String())
			http.NotFound(w, r)
			return
		}

		j.fetches.Add(1)

		set := jose.JSONWebKeySet{}
		for _, k := range keys {
			set.Keys = append(set.Keys, k.Public())
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(set); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(j.Close)

	return j
}

// TokenClaims are the claims the identity service places in an access token.
type TokenClaims struct {
	jwt.Claims
	OrgID string `json:"org_id,omitempty"`
	Roles any    `json:"roles,omitempty"`
}

// ValidClaims returns claims for subject issued by issuer that expire in one
// minute.
func ValidClaims(issuer, subject string) TokenClaims {
	now := time.Now().UTC()

	return TokenClaims{
		Claims: jwt.Claims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(1 * time.Minute)),
		},
	}
}

// MintToken signs the claims with jwk. The key id is placed in the header.
func MintToken(t *testing.T, jwk *jose.JSONWebKey, claims any) string {
	t.Helper()

	key := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(jwk.Algorithm),
		Key:       jwk,
	}

	signer, err := jose.NewSigner(key, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return token
}
