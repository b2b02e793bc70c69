// Package agentcard defines the Agent Card contract: the self-contained JSON
// document a producer publishes to describe an agent's endpoint, capabilities,
// skills, and authentication requirements.
//
// Parsing keeps the raw document intact — unknown fields survive the
// round-trip verbatim — while Validate enforces the structural rules and
// CanonicalJSON/ContentHash provide the deduplication key.
package agentcard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MaxCardBytes is the hard cap on an encoded card. Anything larger is
// rejected before parsing.
const MaxCardBytes = 256 << 10

// Known boolean capability flags. Unknown flags are permitted and preserved.
const (
	CapStreaming              = "streaming"
	CapPushNotifications      = "pushNotifications"
	CapStateTransitionHistory = "stateTransitionHistory"
)

// Security scheme types accepted in securitySchemes[*].type.
const (
	SchemeAPIKey = "apiKey"
	SchemeOAuth2 = "oauth2"
	SchemeJWT    = "jwt"
	SchemeMTLS   = "mTLS"
)

var oauth2Flows = map[string]bool{
	"client_credentials": true,
	"authorization_code": true,
	"password":           true,
}

var transports = map[string]bool{
	"jsonrpc": true,
	"grpc":    true,
	"http":    true,
}

// FieldError describes a single validation failure at a JSON path.
type FieldError struct {
	Path   string `json:"fieldPath"`
	Reason string `json:"reason"`
}

// ValidationError aggregates every field error found in a card. The validator
// never stops at the first problem.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid card: %s: %s", e.Errors[0].Path, e.Errors[0].Reason)
	}
	return fmt.Sprintf("invalid card: %d field errors (first: %s: %s)",
		len(e.Errors), e.Errors[0].Path, e.Errors[0].Reason)
}

// SecurityScheme is the typed view of one securitySchemes entry.
type SecurityScheme struct {
	Type     string `json:"type"`
	Flow     string `json:"flow,omitempty"`
	TokenURL string `json:"tokenUrl,omitempty"`
	Name     string `json:"name,omitempty"`
	In       string `json:"in,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
}

// Skill is the typed view of one skills entry.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
}

// Interface describes how to talk to the agent.
type Interface struct {
	PreferredTransport string   `json:"preferredTransport"`
	DefaultInputModes  []string `json:"defaultInputModes"`
	DefaultOutputModes []string `json:"defaultOutputModes"`
}

// Provider identifies the publishing organization.
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// Signature is the structural view of an optional detached JWS over the card.
// Cryptographic verification happens at publish time, not here.
type Signature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
	JWKSURL   string `json:"jwksUrl,omitempty"`
}

// Card is a validated Agent Card. The typed fields are projections used for
// indexing and display; the raw document (including unknown fields) is what
// canonicalization and hashing operate on.
type Card struct {
	Name             string
	Description      string
	URL              string
	Version          string
	Capabilities     map[string]bool
	SecuritySchemes  []SecurityScheme
	Skills           []Skill
	Interface        Interface
	Provider         *Provider
	DocumentationURL string
	Signature        *Signature

	raw       map[string]any
	canonical []byte
	hash      string
}

// CanonicalJSON returns the key-sorted, whitespace-free encoding of the card,
// unknown fields included.
func (c *Card) CanonicalJSON() []byte { return c.canonical }

// ContentHash returns the lowercase hex SHA-256 of CanonicalJSON. Two cards
// with equal hashes are the same card.
func (c *Card) ContentHash() string { return c.hash }

// Tags returns the deduplicated union of all skill tags, sorted.
func (c *Card) Tags() []string {
	seen := make(map[string]bool)
	for _, s := range c.Skills {
		for _, t := range s.Tags {
			seen[t] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// SchemeTypes returns the distinct securityScheme types, sorted.
func (c *Card) SchemeTypes() []string {
	seen := make(map[string]bool)
	for _, s := range c.SecuritySchemes {
		seen[s.Type] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// MarshalJSON emits the canonical form so nothing is lost on re-encode.
func (c *Card) MarshalJSON() ([]byte, error) { return c.canonical, nil }

// Parse decodes, validates, and canonicalizes a raw Agent Card.
// On validation failure the returned error is a *ValidationError carrying
// every field error found.
func Parse(data []byte) (*Card, error) {
	if len(data) > MaxCardBytes {
		return nil, &ValidationError{Errors: []FieldError{{
			Path:   "$",
			Reason: fmt.Sprintf("card exceeds %d bytes", MaxCardBytes),
		}}}
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{
			Path:   "$",
			Reason: "not a JSON object: " + err.Error(),
		}}}
	}

	v := &validator{raw: raw}
	card := v.run()
	if len(v.errs) > 0 {
		return nil, &ValidationError{Errors: v.errs}
	}

	canonical, err := Canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize card: %w", err)
	}
	card.raw = raw
	card.canonical = canonical
	card.hash = HashCanonical(canonical)
	return card, nil
}

// validator accumulates field errors while building the typed projection.
type validator struct {
	raw  map[string]any
	errs []FieldError
}

func (v *validator) fail(path, reason string) {
	v.errs = append(v.errs, FieldError{Path: path, Reason: reason})
}

func (v *validator) run() *Card {
	c := &Card{Capabilities: make(map[string]bool)}

	c.Name = v.requireString("name")
	c.Description = v.requireString("description")
	c.URL = v.requireString("url")
	c.Version = v.requireString("version")

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			v.fail("url", "must be an absolute http or https URL")
		}
	}
	if c.Version != "" {
		if _, err := semver.StrictNewVersion(c.Version); err != nil {
			v.fail("version", "must be a semantic version")
		}
	}

	v.capabilities(c)
	v.securitySchemes(c)
	v.skills(c)
	v.iface(c)
	v.provider(c)
	v.signature(c)

	if doc, ok := v.raw["documentationUrl"]; ok {
		if s, ok := doc.(string); ok {
			c.DocumentationURL = s
		} else {
			v.fail("documentationUrl", "must be a string")
		}
	}
	return c
}

func (v *validator) requireString(key string) string {
	val, ok := v.raw[key]
	if !ok {
		v.fail(key, "required field is missing")
		return ""
	}
	s, ok := val.(string)
	if !ok || s == "" {
		v.fail(key, "must be a non-empty string")
		return ""
	}
	return s
}

func (v *validator) capabilities(c *Card) {
	val, ok := v.raw["capabilities"]
	if !ok {
		v.fail("capabilities", "required field is missing")
		return
	}
	m, ok := val.(map[string]any)
	if !ok {
		v.fail("capabilities", "must be an object of boolean flags")
		return
	}
	for k, flag := range m {
		b, ok := flag.(bool)
		if !ok {
			v.fail("capabilities."+k, "must be a boolean")
			continue
		}
		c.Capabilities[k] = b
	}
	// Known flags default to false when absent.
	for _, known := range []string{CapStreaming, CapPushNotifications, CapStateTransitionHistory} {
		if _, ok := c.Capabilities[known]; !ok {
			c.Capabilities[known] = false
		}
	}
}

func (v *validator) securitySchemes(c *Card) {
	val, ok := v.raw["securitySchemes"]
	if !ok {
		v.fail("securitySchemes", "required field is missing")
		return
	}
	list, ok := val.([]any)
	if !ok {
		v.fail("securitySchemes", "must be an array")
		return
	}
	for i, entry := range list {
		path := fmt.Sprintf("securitySchemes[%d]", i)
		m, ok := entry.(map[string]any)
		if !ok {
			v.fail(path, "must be an object")
			continue
		}
		scheme := SecurityScheme{
			Type:     stringAt(m, "type"),
			Flow:     stringAt(m, "flow"),
			TokenURL: stringAt(m, "tokenUrl"),
			Name:     stringAt(m, "name"),
			In:       stringAt(m, "in"),
			Issuer:   stringAt(m, "issuer"),
		}
		switch scheme.Type {
		case SchemeOAuth2:
			if !oauth2Flows[scheme.Flow] {
				v.fail(path+".flow", "must be one of client_credentials, authorization_code, password")
			}
			if scheme.TokenURL == "" {
				v.fail(path+".tokenUrl", "required for oauth2 schemes")
			}
		case SchemeAPIKey:
			if scheme.Name == "" {
				v.fail(path+".name", "required for apiKey schemes")
			}
			if scheme.In != "header" && scheme.In != "query" {
				v.fail(path+".in", "must be header or query")
			}
		case SchemeJWT:
			if scheme.Issuer == "" {
				v.fail(path+".issuer", "required for jwt schemes")
			}
		case SchemeMTLS:
			// No extra fields.
		default:
			v.fail(path+".type", "must be one of apiKey, oauth2, jwt, mTLS")
		}
		c.SecuritySchemes = append(c.SecuritySchemes, scheme)
	}
}

func (v *validator) skills(c *Card) {
	val, ok := v.raw["skills"]
	if !ok {
		v.fail("skills", "required field is missing")
		return
	}
	list, ok := val.([]any)
	if !ok {
		v.fail("skills", "must be an array")
		return
	}
	seen := make(map[string]bool)
	for i, entry := range list {
		path := fmt.Sprintf("skills[%d]", i)
		m, ok := entry.(map[string]any)
		if !ok {
			v.fail(path, "must be an object")
			continue
		}
		skill := Skill{
			ID:          stringAt(m, "id"),
			Name:        stringAt(m, "name"),
			Description: stringAt(m, "description"),
			Tags:        stringsAt(m, "tags"),
		}
		if skill.ID == "" {
			v.fail(path+".id", "required")
		} else if seen[skill.ID] {
			v.fail(path+".id", "duplicate skill id "+skill.ID)
		}
		seen[skill.ID] = true
		if len(skill.Tags) == 0 {
			v.fail(path+".tags", "must be non-empty")
		}
		c.Skills = append(c.Skills, skill)
	}
}

func (v *validator) iface(c *Card) {
	val, ok := v.raw["interface"]
	if !ok {
		v.fail("interface", "required field is missing")
		return
	}
	m, ok := val.(map[string]any)
	if !ok {
		v.fail("interface", "must be an object")
		return
	}
	c.Interface = Interface{
		PreferredTransport: stringAt(m, "preferredTransport"),
		DefaultInputModes:  stringsAt(m, "defaultInputModes"),
		DefaultOutputModes: stringsAt(m, "defaultOutputModes"),
	}
	if !transports[c.Interface.PreferredTransport] {
		v.fail("interface.preferredTransport", "must be one of jsonrpc, grpc, http")
	}
	if len(c.Interface.DefaultInputModes) == 0 {
		v.fail("interface.defaultInputModes", "must be non-empty")
	}
	if len(c.Interface.DefaultOutputModes) == 0 {
		v.fail("interface.defaultOutputModes", "must be non-empty")
	}
}

func (v *validator) provider(c *Card) {
	val, ok := v.raw["provider"]
	if !ok {
		return
	}
	m, ok := val.(map[string]any)
	if !ok {
		v.fail("provider", "must be an object")
		return
	}
	p := &Provider{Organization: stringAt(m, "organization"), URL: stringAt(m, "url")}
	if p.Organization == "" {
		v.fail("provider.organization", "required when provider is present")
	}
	c.Provider = p
}

func (v *validator) signature(c *Card) {
	val, ok := v.raw["signature"]
	if !ok {
		return
	}
	m, ok := val.(map[string]any)
	if !ok {
		v.fail("signature", "must be an object")
		return
	}
	sig := &Signature{
		Protected: stringAt(m, "protected"),
		Signature: stringAt(m, "signature"),
		JWKSURL:   stringAt(m, "jwksUrl"),
	}
	if !isBase64URL(sig.Protected) {
		v.fail("signature.protected", "must be base64url")
	}
	if !isBase64URL(sig.Signature) {
		v.fail("signature.signature", "must be base64url")
	}
	if sig.JWKSURL != "" {
		u, err := url.Parse(sig.JWKSURL)
		if err != nil || u.Scheme != "https" {
			v.fail("signature.jwksUrl", "must be an absolute https URL")
		}
	}
	c.Signature = sig
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringsAt(m map[string]any, key string) []string {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isBase64URL(s string) bool {
	if s == "" {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
