package auth

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the JWT claims on a registry access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	TenantID   string   `json:"tid"`
	Roles      []string `json:"roles"`
	ConsumerID string   `json:"consumer_id,omitempty"`
	ClientName string   `json:"client_name,omitempty"`
}

// Verifier turns a bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// Client is one registered OAuth client for the built-in token issuer.
type Client struct {
	ID         string
	Secret     string
	TenantID   string
	Roles      []string
	ConsumerID string
	Name       string
}

// Issuer issues and verifies RS256 access tokens. It backs the in-process
// /oauth/token endpoint for deployments without an external identity
// provider.
type Issuer struct {
	key     *rsa.PrivateKey
	pub     *rsa.PublicKey
	issuer  string
	ttl     time.Duration
	clients map[string]Client
}

// NewIssuer creates an Issuer. issuerURL becomes the "iss" claim; ttl
// defaults to one hour.
func NewIssuer(key *rsa.PrivateKey, issuerURL string, ttl time.Duration, clients []Client) *Issuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	byID := make(map[string]Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	return &Issuer{
		key:     key,
		pub:     &key.PublicKey,
		issuer:  issuerURL,
		ttl:     ttl,
		clients: byID,
	}
}

// ClientCredentials runs the client_credentials grant: it checks the secret
// and issues a token carrying the client's tenant and roles.
func (i *Issuer) ClientCredentials(clientID, clientSecret string) (token string, expiresIn time.Duration, err error) {
	c, ok := i.clients[clientID]
	if !ok || subtle.ConstantTimeCompare([]byte(c.Secret), []byte(clientSecret)) != 1 {
		return "", 0, model.E(model.CodeUnauthenticated, "invalid client credentials")
	}

	now := time.Now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   c.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		TenantID:   c.TenantID,
		Roles:      c.Roles,
		ConsumerID: c.ConsumerID,
		ClientName: c.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.key)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, i.ttl, nil
}

// Verify implements Verifier against the issuer's own key.
func (i *Issuer) Verify(_ context.Context, tokenStr string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AccessClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.pub, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
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

// PublicKey returns the verification key, served on the JWKS endpoint.
func (i *Issuer) PublicKey() *rsa.PublicKey { return i.pub }

func principalFrom(claims *AccessClaims) *Principal {
	p := &Principal{
		Subject:     claims.Subject,
		TenantID:    claims.TenantID,
		ConsumerID:  claims.ConsumerID,
		DisplayName: claims.ClientName,
	}
	if p.DisplayName == "" {
		p.DisplayName = claims.Subject
	}
	for _, r := range claims.Roles {
		switch model.Role(r) {
		case model.RoleAdministrator, model.RoleCatalogManager, model.RoleUser:
			p.Roles = append(p.Roles, model.Role(r))
		}
	}
	if len(p.Roles) == 0 {
		p.Roles = []model.Role{model.RoleUser}
	}
	return p
}
