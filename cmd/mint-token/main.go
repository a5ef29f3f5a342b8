// Command mint-token signs an access token the way the identity service
// does, for exercising a locally running gateway.
//
//	mint-token -generate                      # create a development key set
//	mint-token -sub u1 -org acme -roles MEMBER
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

type options struct {
	jwksPath string
	kid      string
	generate bool

	issuer  string
	subject string
	org     string
	roles   string
	ttl     time.Duration
}

// accessClaims are the claims the gateway reads from an access token.
type accessClaims struct {
	jwt.Claims
	OrgID string   `json:"org_id,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func main() {
	opts := options{}

	flag.StringVar(&opts.jwksPath, "jwks", ".development/keys/jwks.private.json", "path of the private key set")
	flag.StringVar(&opts.kid, "kid", "dev-key", "id of the signing key")
	flag.BoolVar(&opts.generate, "generate", false, "write a new private key set and print its public keys")
	flag.StringVar(&opts.issuer, "iss", "identity", "token issuer")
	flag.StringVar(&opts.subject, "sub", "", "user id placed in the subject claim")
	flag.StringVar(&opts.org, "org", "", "optional org_id claim")
	flag.StringVar(&opts.roles, "roles", "", "optional comma separated roles claim")
	flag.DurationVar(&opts.ttl, "ttl", 15*time.Minute, "token lifetime")
	flag.Parse()

	out, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", out)
}

func run(opts options) (string, error) {
	if opts.generate {
		return generateKeySet(opts.jwksPath, opts.kid)
	}

	if opts.subject == "" {
		return "", errors.New("-sub is required")
	}

	jwks, err := readKeySet(opts.jwksPath)
	if err != nil {
		return "", err
	}

	keys := jwks.Key(opts.kid)
	if len(keys) == 0 {
		return "", fmt.Errorf("key %q not found in %s", opts.kid, opts.jwksPath)
	}

	now := time.Now().UTC()

	return createJWT(&keys[0], accessClaims{
		Claims: jwt.Claims{
			Issuer:   opts.issuer,
			Subject:  opts.subject,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(opts.ttl)),
		},
		OrgID: opts.org,
		Roles: splitRoles(opts.roles),
	})
}

func readKeySet(path string) (jose.JSONWebKeySet, error) {
	jwks := jose.JSONWebKeySet{}

	data, err := os.ReadFile(path)
	if err != nil {
		return jwks, fmt.Errorf("reading jwks: %w", err)
	}

	if err := json.Unmarshal(data, &jwks); err != nil {
		return jwks, fmt.Errorf("loading jwks: %w", err)
	}

	return jwks, nil
}

// generateKeySet writes a private key set to path and returns the matching
// public set, ready to be served as the identity service's key discovery
// document.
func generateKeySet(path, kid string) (string, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}

	jwk := jose.JSONWebKey{
		Key:       privateKey,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}

	private, err := json.MarshalIndent(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, private, 0o600); err != nil {
		return "", fmt.Errorf("writing jwks: %w", err)
	}

	public, err := json.MarshalIndent(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk.Public()}}, "", "  ")
	if err != nil {
		return "", err
	}

	return string(public), nil
}

func createJWT(jwk *jose.JSONWebKey, claims ...any) (string, error) {
	key := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(jwk.Algorithm),
		Key:       jwk,
	}

	signer, err := jose.NewSigner(
		key,
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	builder := jwt.Signed(signer)

	for _, claim := range claims {
		builder = builder.Claims(claim)
	}

	return builder.Serialize()
}

func splitRoles(roles string) []string {
	var out []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
