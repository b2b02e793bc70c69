package agentcard_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentdex/agentdex/pkg/agentcard"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// signCard signs the card document with key, attaches the detached JWS plus
// jwksURL as the signature member, and returns the signed document.
func signCard(t *testing.T, doc []byte, key *rsa.PrivateKey, jwksURL string) []byte {
	t.Helper()
	unsigned, err := agentcard.Parse(doc)
	if err != nil {
		t.Fatalf("parse unsigned card: %v", err)
	}
	payload, err := unsigned.SignedBytes()
	if err != nil {
		t.Fatalf("signed bytes: %v", err)
	}

	compact, err := jws.Sign(payload, jws.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("sign card: %v", err)
	}
	parts := strings.Split(string(compact), ".")
	if len(parts) != 3 {
		t.Fatalf("compact JWS has %d parts", len(parts))
	}

	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	m["signature"] = map[string]any{
		"protected": parts[0],
		"signature": parts[2],
		"jwksUrl":   jwksURL,
	}
	signed, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal signed card: %v", err)
	}
	return signed
}

// jwksServer serves the public half of key as a JWKS over TLS; signature
// jwksUrl values must be https.
func jwksServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	pub, err := jwk.FromRaw(key.Public())
	if err != nil {
		t.Fatalf("jwk from public key: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifySignature(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := jwksServer(t, key)

	signed := signCard(t, validCardJSON(t, nil), key, srv.URL+"/jwks.json")
	card, err := agentcard.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed card: %v", err)
	}
	if card.Signature == nil || card.Signature.JWKSURL == "" {
		t.Fatal("signature member not carried through parsing")
	}
	if err := card.VerifySignature(context.Background(), srv.Client()); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignature_wrongKeyFails(t *testing.T) {
	signer, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	// The JWKS serves a key that never signed the card.
	srv := jwksServer(t, other)

	signed := signCard(t, validCardJSON(t, nil), signer, srv.URL+"/jwks.json")
	card, err := agentcard.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed card: %v", err)
	}
	if err := card.VerifySignature(context.Background(), srv.Client()); err == nil {
		t.Fatal("signature by an unknown key must not verify")
	}
}

func TestVerifySignature_tamperedCardFails(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := jwksServer(t, key)

	signed := signCard(t, validCardJSON(t, nil), key, srv.URL+"/jwks.json")
	var m map[string]any
	if err := json.Unmarshal(signed, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m["description"] = "edited after signing"
	tampered, _ := json.Marshal(m)

	card, err := agentcard.Parse(tampered)
	if err != nil {
		t.Fatalf("parse tampered card: %v", err)
	}
	if err := card.VerifySignature(context.Background(), srv.Client()); err == nil {
		t.Fatal("tampered card must not verify")
	}
}

func TestVerifySignature_unsignedCardHasNothingToVerify(t *testing.T) {
	card, err := agentcard.Parse(validCardJSON(t, nil))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := card.VerifySignature(context.Background(), nil); err == nil {
		t.Fatal("unsigned card should report no verifiable signature")
	}
}
