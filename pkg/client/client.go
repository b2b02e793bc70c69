// Package client provides the agentdex Go SDK for publishing agent cards,
// searching the catalog, and administering federation peers.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIError is a structured error response from the registry. Code carries the
// registry's machine-readable error code (not_found, forbidden, rate_limited,
// invalid_card, ...).
type APIError struct {
	Status     int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`
	RequestID  string `json:"requestId"`
	RetryAfter int    `json:"-"` // seconds; set on rate_limited responses
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Message
	}
	return fmt.Sprintf("registry error %d (%s): %s [request %s]", e.Status, e.Code, msg, e.RequestID)
}

// IsNotFound reports whether err is a registry not_found error. Visibility
// denials read as not_found too, so this also covers agents the caller is
// not entitled to see.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == "not_found"
}

// IsRateLimited reports whether err is a rate_limited rejection. When true,
// the APIError's RetryAfter field holds the suggested wait in seconds.
func IsRateLimited(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == "rate_limited"
}

// Agent is one catalog record as returned by the listing endpoints.
type Agent struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	PublisherName string    `json:"publisherName"`
	Name          string    `json:"name"`
	Public        bool      `json:"public"`
	FederatedFrom string    `json:"federatedFrom,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AgentDetail is a full record plus its latest card.
type AgentDetail struct {
	Agent       Agent           `json:"agent"`
	Version     string          `json:"version"`
	ContentHash string          `json:"contentHash"`
	Card        json.RawMessage `json:"card"`
}

// PublishResult reports what a publish call did. Created is false when the
// card was byte-identical to an already-stored version.
type PublishResult struct {
	AgentID   string `json:"agentId"`
	VersionID string `json:"versionId"`
	Created   bool   `json:"created"`
}

// SearchQuery is the input to Search. Zero values mean "no filter"; Top=0
// uses the server default page size.
type SearchQuery struct {
	Q         string   `json:"q"`
	Tags      []string `json:"tags,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	Transport string   `json:"transport,omitempty"`
	Security  []string `json:"security,omitempty"`
	Public    *bool    `json:"public,omitempty"`
	Top       int      `json:"-"`
	Skip      int      `json:"-"`
}

// SearchHit is one relevance-ranked search result.
type SearchHit struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	PublisherName string    `json:"publisherName"`
	Version       string    `json:"version"`
	Tags          []string  `json:"tags,omitempty"`
	Transport     string    `json:"preferredTransport,omitempty"`
	Public        bool      `json:"public"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Score         float64   `json:"score"`
}

// Page is one window of a listing. NextSkip is nil when the listing is
// exhausted; otherwise pass it as the next call's skip.
type Page[T any] struct {
	Items    []T  `json:"items"`
	Count    int  `json:"count"`
	NextSkip *int `json:"nextSkip,omitempty"`
}

// Entitlement is one visibility grant on a non-public agent.
type Entitlement struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Subject   string    `json:"subject"`
	AgentID   string    `json:"agentId"`
	GrantedAt time.Time `json:"grantedAt"`
}

// Peer is one federation peer registration. ClientSecret is never returned
// by the registry.
type Peer struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	BaseURL        string     `json:"baseUrl"`
	TenantID       string     `json:"tenantId"`
	TokenURL       string     `json:"tokenUrl,omitempty"`
	ClientID       string     `json:"clientId,omitempty"`
	SyncInterval   Duration   `json:"syncInterval"`
	Enabled        bool       `json:"enabled"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	LastSyncStatus string     `json:"lastSyncStatus,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Duration decodes the registry's nanosecond duration encoding.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ns int64
	if err := json.Unmarshal(b, &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// PeerRequest creates or updates a peer registration.
type PeerRequest struct {
	Name             string `json:"name"`
	BaseURL          string `json:"baseUrl"`
	TenantID         string `json:"tenantId"`
	TokenURL         string `json:"tokenUrl,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	SyncIntervalSecs int    `json:"syncIntervalSecs,omitempty"`
	Enabled          *bool  `json:"enabled,omitempty"`
}

// SyncRun is one recorded synchronization attempt against a peer.
type SyncRun struct {
	ID         string     `json:"id"`
	PeerID     string     `json:"peerId"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Added      int        `json:"added"`
	Updated    int        `json:"updated"`
	Removed    int        `json:"removed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// Stats are the registry-wide public counters.
type Stats struct {
	TotalAgents        int `json:"totalAgents"`
	PublicAgents       int `json:"publicAgents"`
	IndexedAgents      int `json:"indexedAgents"`
	IndexRepairBacklog int `json:"indexRepairBacklog"`
	Peers              int `json:"peers"`
}

// IndexEntry is one agent in the registry's well-known public index.
type IndexEntry struct {
	Name        string    `json:"name"`
	Publisher   string    `json:"publisher"`
	Version     string    `json:"version"`
	ContentHash string    `json:"contentHash"`
	CardURL     string    `json:"cardUrl"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IndexPage is one cursor window of the well-known index.
type IndexPage struct {
	Items      []IndexEntry `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// Client is the agentdex SDK entry point.
type Client struct {
	registryBase string
	httpClient   *http.Client
	cache        *cardCache

	// token state — guarded by mu
	mu           sync.Mutex
	bearerToken  string
	tokenExpiry  time.Time // zero = token was set manually (no auto-refresh)
	clientID     string
	clientSecret string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCardCacheTTL enables in-memory caching of fetched cards with the given
// TTL. Cards are content-addressed, so a generous TTL is safe.
func WithCardCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newCardCache(ttl)
		return nil
	}
}

// WithBearerToken attaches a pre-obtained access token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{} // zero = manual, never auto-refresh
		return nil
	}
}

// WithClientCredentials configures the client to obtain tokens from the
// registry's own token endpoint using the client_credentials grant. Tokens
// are cached and refreshed automatically as they approach expiry.
func WithClientCredentials(clientID, clientSecret string) Option {
	return func(c *Client) error {
		c.clientID = clientID
		c.clientSecret = clientSecret
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 30 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the registry at registryBase.
//
//	c, err := client.New("https://registry.example.com",
//	    client.WithClientCredentials("publisher-1", secret),
//	)
func New(registryBase string, opts ...Option) (*Client, error) {
	c := &Client{
		registryBase: strings.TrimRight(registryBase, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(registryBase string, opts ...Option) *Client {
	c, err := New(registryBase, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// FetchToken exchanges the configured client credentials for an access token,
// caches it, and returns it. Requires WithClientCredentials.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

// fetchTokenRaw fetches a fresh token without touching cached state. It uses
// the raw httpClient so no stale bearer token rides along on the grant.
func (c *Client) fetchTokenRaw(ctx context.Context) (token string, expiry time.Time, err error) {
	if c.clientID == "" {
		return "", time.Time{}, fmt.Errorf("no client credentials configured (use WithClientCredentials)")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.registryBase+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, apiError(resp, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned an empty token")
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	exp := time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - refreshBuffer)
	return payload.AccessToken, exp, nil
}

// ensureToken returns a valid bearer token, fetching a new one if the cached
// token is absent or approaching expiry. Returns "" when the client has no
// credentials at all — anonymous calls are allowed on public endpoints.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// tokenExpiry.IsZero() means the token was set manually via WithBearerToken
	// and should never be auto-refreshed.
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.clientID == "" {
		return "", nil
	}

	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// PublishCard publishes a card by value. The registry validates the document,
// canonicalizes it, and indexes it; a byte-identical re-publish deduplicates.
func (c *Client) PublishCard(ctx context.Context, card json.RawMessage, public bool) (*PublishResult, error) {
	return c.publish(ctx, map[string]any{"card": card, "public": public})
}

// PublishURL publishes a card by source URL; the registry fetches the
// document itself.
func (c *Client) PublishURL(ctx context.Context, cardURL string, public bool) (*PublishResult, error) {
	return c.publish(ctx, map[string]any{"cardUrl": cardURL, "public": public})
}

func (c *Client) publish(ctx context.Context, payload map[string]any) (*PublishResult, error) {
	var result PublishResult
	if err := c.call(ctx, http.MethodPost, "/agents/publish", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search runs a relevance-ranked search within the caller's visibility.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*Page[SearchHit], error) {
	payload := map[string]any{
		"q": q.Q,
		"filters": map[string]any{
			"tags":      q.Tags,
			"publisher": q.Publisher,
			"transport": q.Transport,
			"security":  q.Security,
			"public":    q.Public,
		},
		"skip": q.Skip,
	}
	if q.Top > 0 {
		payload["top"] = q.Top
	}

	var page Page[SearchHit]
	if err := c.call(ctx, http.MethodPost, "/agents/search", payload, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAgent fetches one agent with its latest card, subject to visibility.
func (c *Client) GetAgent(ctx context.Context, id string) (*AgentDetail, error) {
	var detail AgentDetail
	if err := c.call(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetCard fetches the canonical card bytes alone. Results are cached when
// the client was built with WithCardCacheTTL.
func (c *Client) GetCard(ctx context.Context, id string) (json.RawMessage, error) {
	if c.cache != nil {
		if card, ok := c.cache.get(id); ok {
			return card, nil
		}
	}

	var card json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/card", nil, &card); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(id, card)
	}
	return card, nil
}

// ListPublic pages the cross-tenant public listing. No authentication needed.
func (c *Client) ListPublic(ctx context.Context, top, skip int) (*Page[Agent], error) {
	return c.listAgents(ctx, "/agents/public", top, skip)
}

// ListEntitled pages the caller's visible agents: public plus entitled
// within the caller's tenant.
func (c *Client) ListEntitled(ctx context.Context, top, skip int) (*Page[Agent], error) {
	return c.listAgents(ctx, "/agents/entitled", top, skip)
}

func (c *Client) listAgents(ctx context.Context, path string, top, skip int) (*Page[Agent], error) {
	q := url.Values{}
	if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page Page[Agent]
	if err := c.call(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Grant gives subject visibility of a non-public agent. Requires the caller
// to manage the agent.
func (c *Client) Grant(ctx context.Context, agentID, subject string) (*Entitlement, error) {
	var resp struct {
		Entitlement Entitlement `json:"entitlement"`
	}
	err := c.call(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/entitlements",
		map[string]string{"subject": subject}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Entitlement, nil
}

// Revoke removes subject's visibility of an agent.
func (c *Client) Revoke(ctx context.Context, agentID, subject string) error {
	return c.call(ctx, http.MethodDelete,
		"/agents/"+url.PathEscape(agentID)+"/entitlements/"+url.PathEscape(subject), nil, nil)
}

// ListEntitlements returns the active grants on an agent.
func (c *Client) ListEntitlements(ctx context.Context, agentID string) ([]Entitlement, error) {
	var resp struct {
		Entitlements []Entitlement `json:"entitlements"`
	}
	err := c.call(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID)+"/entitlements", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entitlements, nil
}

// CreatePeer registers a federation peer. Requires the Administrator role.
func (c *Client) CreatePeer(ctx context.Context, req PeerRequest) (*Peer, error) {
	var resp struct {
		Peer Peer `json:"peer"`
	}
	if err := c.call(ctx, http.MethodPost, "/peers", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Peer, nil
}

// UpdatePeer replaces a peer's registration.
func (c *Client) UpdatePeer(ctx context.Context, id string, req PeerRequest) (*Peer, error) {
	var resp struct {
		Peer Peer `json:"peer"`
	}
	if err := c.call(ctx, http.MethodPut, "/peers/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, err
	}
	return &resp.Peer, nil
}

// DeletePeer removes a peer registration and its run history.
func (c *Client) DeletePeer(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/peers/"+url.PathEscape(id), nil, nil)
}

// GetPeer fetches one peer registration.
func (c *Client) GetPeer(ctx context.Context, id string) (*Peer, error) {
	var resp struct {
		Peer Peer `json:"peer"`
	}
	if err := c.call(ctx, http.MethodGet, "/peers/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Peer, nil
}

// ListPeers returns every registered peer.
func (c *Client) ListPeers(ctx context.Context) ([]Peer, error) {
	var resp struct {
		Peers []Peer `json:"peers"`
	}
	if err := c.call(ctx, http.MethodGet, "/peers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// TriggerSync starts a background sync of one peer. The registry responds
// before the sync completes; follow up with ListRuns.
func (c *Client) TriggerSync(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/peers/"+url.PathEscape(id)+"/sync", nil, nil)
}

// ListRuns returns a peer's most recent sync runs, newest first.
func (c *Client) ListRuns(ctx context.Context, id string, limit int) ([]SyncRun, error) {
	path := "/peers/" + url.PathEscape(id) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []SyncRun `json:"runs"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Stats returns the registry-wide public counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.call(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Index pages the registry's well-known public index. Pass an empty cursor
// for the first page.
func (c *Client) Index(ctx context.Context, cursor string, limit int) (*IndexPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/.well-known/agents/index.json"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page IndexPage
	if err := c.call(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// RegistryCard fetches the registry's own agent card.
func (c *Client) RegistryCard(ctx context.Context) (json.RawMessage, error) {
	var card json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/.well-known/agent.json", nil, &card); err != nil {
		return nil, err
	}
	return card, nil
}

// call executes one registry request: token attach, JSON encode/decode, and
// APIError mapping for non-2xx responses.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.registryBase+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.ensureToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return apiError(resp, respBytes)
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError builds an *APIError from a non-2xx response, falling back to the
// raw body when it is not the registry's error shape.
func apiError(resp *http.Response, body []byte) error {
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unknown"
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		apiErr.RetryAfter, _ = strconv.Atoi(ra)
	}
	return apiErr
}

// --- simple in-memory card cache ---

type cacheEntry struct {
	card      json.RawMessage
	expiresAt time.Time
}

type cardCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newCardCache(ttl time.Duration) *cardCache {
	return &cardCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (cc *cardCache) get(key string) (json.RawMessage, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	e, ok := cc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.card, true
}

func (cc *cardCache) set(key string, card json.RawMessage) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.entries[key] = &cacheEntry{card: card, expiresAt: time.Now().Add(cc.ttl)}
}
