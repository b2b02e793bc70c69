// Package client is the agentdex Go SDK.
//
// It covers the full registry surface: publishing agent cards, discovering
// and fetching agents, managing entitlements, and administering federation
// peers.
//
// # Connecting
//
// Public reads need no credentials:
//
//	c := client.MustNew("https://registry.example.com")
//	page, err := c.ListPublic(ctx, 20, 0)
//
// Authenticated callers configure client credentials once; the SDK obtains
// and refreshes access tokens against the registry's token endpoint as
// needed:
//
//	c, err := client.New("https://registry.example.com",
//	    client.WithClientCredentials("publisher-1", os.Getenv("ADX_CLIENT_SECRET")),
//	)
//
// A pre-obtained token (for example from an external identity provider the
// registry trusts) can be attached instead with WithBearerToken.
//
// # Publishing
//
// Cards are published by value or by URL. The registry validates, stores the
// canonical bytes, and deduplicates byte-identical re-publishes:
//
//	card, _ := os.ReadFile("agent.json")
//	res, err := c.PublishCard(ctx, card, true)
//	if err == nil && !res.Created {
//	    // already published, nothing changed
//	}
//
// # Discovery
//
// Search is relevance-ranked and scoped to what the caller may see:
//
//	page, err := c.Search(ctx, client.SearchQuery{
//	    Q:    "invoice processing",
//	    Tags: []string{"finance"},
//	})
//
// # Errors
//
// Every registry rejection surfaces as *APIError carrying the HTTP status,
// the machine-readable code, and the request ID to quote when reporting a
// problem. IsNotFound and IsRateLimited cover the common branches:
//
//	if client.IsNotFound(err) {
//	    // the agent does not exist, or the caller cannot see it
//	}
package client
