package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSVerifier verifies access tokens against a remote JWKS endpoint, for
// deployments fronted by an external identity provider. Keys are cached and
// refreshed in the background.
type JWKSVerifier struct {
	cache  *jwk.Cache
	url    string
	issuer string
}

// NewJWKSVerifier starts the key cache and performs an initial fetch so a
// bad URL fails at startup rather than on the first request. issuer, when
// non-empty, is enforced as the "iss" claim.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*JWKSVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return &JWKSVerifier{cache: cache, url: jwksURL, issuer: issuer}, nil
}

// Verify implements Verifier.
func (v *JWKSVerifier) Verify(ctx context.Context, tokenStr string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AccessClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			kid, _ := tok.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("token has no kid header")
			}
			set, err := v.cache.Get(ctx, v.url)
			if err != nil {
				return nil, fmt.Errorf("load jwks: %w", err)
			}
			key, ok := set.LookupKeyID(kid)
			if !ok {
				return nil, fmt.Errorf("no jwks key with kid %q", kid)
			}
			var pub rsa.PublicKey
			if err := key.Raw(&pub); err != nil {
				return nil, fmt.Errorf("export jwks key: %w", err)
			}
			return &pub, nil
		},
		opts...,
	)
	if err != nil {
		return nil, model.Wrap(model.CodeUnauthenticated, "invalid token", err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, model.E(model.CodeUnauthenticated, "invalid token claims")
	}
	return principalFrom(claims), nil
}
