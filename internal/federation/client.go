package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/agentdex/agentdex/internal/cardfetch"
	"github.com/agentdex/agentdex/internal/registry/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// IndexPath is where a registry serves its public index.
const IndexPath = "/.well-known/agents/index.json"

// maxIndexPages bounds how far a peer index walk will go; a peer serving an
// endless cursor chain is cut off rather than followed forever.
const maxIndexPages = 1000

// Client talks to one peer registry. Outbound requests are paced by a rate
// limiter so a large sync cannot hammer the peer, and authenticated via
// client credentials when the peer requires it.
type Client struct {
	peer    *PeerRegistry
	fetcher *cardfetch.Fetcher
	limiter *rate.Limiter
	tokens  oauth2.TokenSource
}

// NewClient builds a client for peer. rps bounds outbound request rate;
// zero means 5 requests per second.
func NewClient(peer *PeerRegistry, rps float64) *Client {
	if rps <= 0 {
		rps = 5
	}
	c := &Client{
		peer:    peer,
		fetcher: cardfetch.New(cardfetch.SameHostRedirects()),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
	if peer.TokenURL != "" {
		cfg := &clientcredentials.Config{
			ClientID:     peer.ClientID,
			ClientSecret: peer.ClientSecret,
			TokenURL:     peer.TokenURL,
		}
		c.tokens = cfg.TokenSource(context.Background())
	}
	return c
}

// FetchIndex walks the peer's paginated public index and returns every
// entry.
func (c *Client) FetchIndex(ctx context.Context) ([]IndexEntry, error) {
	base, err := url.JoinPath(c.peer.BaseURL, IndexPath)
	if err != nil {
		return nil, fmt.Errorf("peer index url: %w", err)
	}

	var entries []IndexEntry
	cursor := ""
	for page := 0; page < maxIndexPages; page++ {
		pageURL := base
		if cursor != "" {
			pageURL += "?cursor=" + url.QueryEscape(cursor)
		}
		body, err := c.get(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		var p IndexPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, model.Wrap(model.CodeUpstream, "peer index is not valid JSON", err)
		}
		entries = append(entries, p.Items...)
		if p.NextCursor == "" {
			return entries, nil
		}
		cursor = p.NextCursor
	}
	return nil, model.E(model.CodeUpstream, "peer index pagination did not terminate")
}

// FetchCard retrieves one agent card by its index entry URL.
func (c *Client) FetchCard(ctx context.Context, cardURL string) ([]byte, error) {
	return c.get(ctx, cardURL)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bearer := ""
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, model.Wrap(model.CodeUpstream, "peer token request failed", err)
		}
		bearer = tok.AccessToken
	}
	res, err := c.fetcher.Get(ctx, rawURL, bearer)
	if err != nil {
		return nil, model.Wrap(model.CodeUpstream, "peer request failed", err)
	}
	return res.Body, nil
}
