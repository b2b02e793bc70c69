package agentcard

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// SignedBytes returns the canonical encoding of the card without its
// signature member. A detached JWS covers these bytes; the signature cannot
// cover itself.
func (c *Card) SignedBytes() ([]byte, error) {
	if c.Signature == nil {
		return c.canonical, nil
	}
	stripped := make(map[string]any, len(c.raw))
	for k, v := range c.raw {
		if k != "signature" {
			stripped[k] = v
		}
	}
	return Canonicalize(stripped)
}

// VerifySignature checks the card's detached JWS against the key set served
// at signature.jwksUrl. client may be nil for http.DefaultClient. A card
// without a signature, or with a signature that names no jwksUrl, has
// nothing to verify and is rejected here; callers decide whether that is
// fatal.
func (c *Card) VerifySignature(ctx context.Context, client *http.Client) error {
	sig := c.Signature
	if sig == nil || sig.JWKSURL == "" {
		return errors.New("card carries no verifiable signature")
	}

	var opts []jwk.FetchOption
	if client != nil {
		opts = append(opts, jwk.WithHTTPClient(client))
	}
	set, err := jwk.Fetch(ctx, sig.JWKSURL, opts...)
	if err != nil {
		return fmt.Errorf("fetch signature jwks: %w", err)
	}

	payload, err := c.SignedBytes()
	if err != nil {
		return err
	}
	compact := sig.Protected + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + sig.Signature
	if _, err := jws.Verify([]byte(compact), jws.WithKeySet(set, jws.WithRequireKid(false), jws.WithInferAlgorithmFromKey(true))); err != nil {
		return fmt.Errorf("signature does not verify against jwks keys: %w", err)
	}
	return nil
}
