// cmd/seed — publishes demo agent cards into a running registry for
// development. Cards go through the normal publish pipeline (validation,
// canonicalization, indexing), so a seeded registry behaves exactly like a
// production one.
//
// Running twice is safe: byte-identical cards deduplicate by content hash.
//
// Usage:
//
//	go run ./cmd/seed
//	ADX_REGISTRY_URL=http://localhost:8080 ADX_CLIENT_ID=mgr-1 ADX_CLIENT_SECRET=... go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentdex/agentdex/pkg/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	registry := envOr("ADX_REGISTRY_URL", "http://localhost:8080")
	clientID := envOr("ADX_CLIENT_ID", "seed-publisher")
	secret := os.Getenv("ADX_CLIENT_SECRET")
	if secret == "" {
		return fmt.Errorf("ADX_CLIENT_SECRET is required")
	}

	c, err := client.New(registry, client.WithClientCredentials(clientID, secret))
	if err != nil {
		return err
	}
	ctx := context.Background()

	if _, err := c.FetchToken(ctx); err != nil {
		return fmt.Errorf("authenticate against %s: %w", registry, err)
	}
	fmt.Printf("connected to %s as %s\n\n", registry, clientID)

	for _, a := range roster {
		payload, err := json.Marshal(a.card)
		if err != nil {
			return fmt.Errorf("encode card %s: %w", a.card.Name, err)
		}
		res, err := c.PublishCard(ctx, payload, a.public)
		if err != nil {
			return fmt.Errorf("publish %s: %w", a.card.Name, err)
		}

		state := "created  "
		if !res.Created {
			state = "unchanged"
		}
		visibility := "private"
		if a.public {
			visibility = "public "
		}
		fmt.Printf("  %s  %s  %-28s  v%-7s  %s\n", state, visibility, a.card.Name, a.card.Version, res.AgentID)

		for _, subject := range a.entitle {
			if _, err := c.Grant(ctx, res.AgentID, subject); err != nil {
				return fmt.Errorf("grant %s on %s: %w", subject, a.card.Name, err)
			}
			fmt.Printf("             entitled  %s\n", subject)
		}
	}

	fmt.Println("\nseed complete")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ── Demo roster ──────────────────────────────────────────────────────────────

// card is the subset of the agent card schema the seeder fills in. It
// marshals into a document that passes the registry's validator.
type card struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	URL             string           `json:"url"`
	Version         string           `json:"version"`
	Capabilities    map[string]bool  `json:"capabilities"`
	SecuritySchemes []map[string]any `json:"securitySchemes"`
	Skills          []skill          `json:"skills"`
	Interface       iface            `json:"interface"`
	Provider        *provider        `json:"provider,omitempty"`
}

type skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
}

type iface struct {
	PreferredTransport string   `json:"preferredTransport"`
	DefaultInputModes  []string `json:"defaultInputModes"`
	DefaultOutputModes []string `json:"defaultOutputModes"`
}

type provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

type seedAgent struct {
	card    card
	public  bool
	entitle []string // subjects granted visibility after publish
}

func apiKeyScheme() []map[string]any {
	return []map[string]any{{"type": "apiKey", "name": "X-Api-Key", "in": "header"}}
}

func oauth2Scheme(tokenURL string) []map[string]any {
	return []map[string]any{{"type": "oauth2", "flow": "client_credentials", "tokenUrl": tokenURL}}
}

var textIface = iface{
	PreferredTransport: "jsonrpc",
	DefaultInputModes:  []string{"text/plain"},
	DefaultOutputModes: []string{"text/plain", "application/json"},
}

var roster = []seedAgent{
	{
		public: true,
		card: card{
			Name:            "tax-advisor",
			Description:     "Automates federal and state tax filings, identifies deductions, and answers tax queries.",
			URL:             "https://agents.acme.example/finance/tax",
			Version:         "2.1.0",
			Capabilities:    map[string]bool{"streaming": true},
			SecuritySchemes: oauth2Scheme("https://auth.acme.example/oauth/token"),
			Interface:       textIface,
			Provider:        &provider{Organization: "ACME Corp", URL: "https://acme.example"},
			Skills: []skill{
				{ID: "tax-filing", Name: "Tax Filing", Description: "Prepare and file federal and state tax returns", Tags: []string{"tax", "filing", "finance"}},
				{ID: "deduction-analysis", Name: "Deduction Analysis", Description: "Identify eligible deductions from financial records", Tags: []string{"tax", "optimization"}},
			},
		},
	},
	{
		public: true,
		card: card{
			Name:            "checkout-bot",
			Description:     "Handles payment intent creation, refund processing, and dispute resolution for merchants.",
			URL:             "https://api.pay.example/agents/checkout",
			Version:         "1.4.2",
			Capabilities:    map[string]bool{"streaming": false, "pushNotifications": true},
			SecuritySchemes: apiKeyScheme(),
			Interface: iface{
				PreferredTransport: "grpc",
				DefaultInputModes:  []string{"application/json"},
				DefaultOutputModes: []string{"application/json"},
			},
			Provider: &provider{Organization: "PayFlow"},
			Skills: []skill{
				{ID: "payment-processing", Name: "Payment Processing", Description: "Create and manage payment intents", Tags: []string{"payments", "commerce"}},
				{ID: "refund-management", Name: "Refund Management", Description: "Process full and partial refunds", Tags: []string{"payments", "refunds"}},
				{ID: "dispute-resolution", Name: "Dispute Resolution", Description: "Respond to chargebacks with supporting evidence", Tags: []string{"payments", "disputes"}},
			},
		},
	},
	{
		public: true,
		card: card{
			Name:            "code-reviewer",
			Description:     "Reviews pull requests, flags security anti-patterns, and enforces style guidelines.",
			URL:             "https://agents.techcorp.example/infra/review",
			Version:         "1.0.0",
			Capabilities:    map[string]bool{"streaming": true, "stateTransitionHistory": true},
			SecuritySchemes: apiKeyScheme(),
			Interface:       textIface,
			Skills: []skill{
				{ID: "pr-review", Name: "Pull Request Review", Description: "Automated review of pull requests for bugs, style, and security", Tags: []string{"code-review", "devops"}},
				{ID: "security-audit", Name: "Security Audit", Description: "Detect common vulnerability patterns in code", Tags: []string{"security", "devops"}},
			},
		},
	},
	{
		public: true,
		card: card{
			Name:            "research-bot",
			Description:     "Searches academic papers, summarises findings, and generates literature reviews on demand.",
			URL:             "https://research-bot.fly.example",
			Version:         "1.0.0",
			Capabilities:    map[string]bool{"streaming": true},
			SecuritySchemes: apiKeyScheme(),
			Interface:       textIface,
			Skills: []skill{
				{ID: "literature-search", Name: "Literature Search", Description: "Search arXiv and PubMed for papers by topic", Tags: []string{"research", "academia"}},
				{ID: "literature-review", Name: "Literature Review", Description: "Generate a structured review from a set of papers", Tags: []string{"research", "writing"}},
			},
		},
	},
	// Private agents: visible only to their publisher and entitled subjects.
	{
		entitle: []string{"reader-1"},
		card: card{
			Name:            "patient-intake",
			Description:     "Collects patient history, insurance details, and symptom information before consultations.",
			URL:             "https://intake.medcenter.example/agent",
			Version:         "1.2.0",
			Capabilities:    map[string]bool{"streaming": false},
			SecuritySchemes: oauth2Scheme("https://auth.medcenter.example/oauth/token"),
			Interface: iface{
				PreferredTransport: "http",
				DefaultInputModes:  []string{"application/json"},
				DefaultOutputModes: []string{"application/json"},
			},
			Provider: &provider{Organization: "MedCenter"},
			Skills: []skill{
				{ID: "patient-history", Name: "Patient History Collection", Description: "Gather structured medical history via conversational intake", Tags: []string{"healthcare", "intake"}},
				{ID: "insurance-verification", Name: "Insurance Verification", Description: "Verify patient insurance eligibility in real time", Tags: []string{"healthcare", "insurance"}},
			},
		},
	},
	{
		card: card{
			Name:            "contract-analyzer",
			Description:     "Extracts key clauses, liability terms, and renewal dates from commercial contracts.",
			URL:             "https://api.legalops.example/agents/contracts",
			Version:         "2.0.0",
			Capabilities:    map[string]bool{"streaming": false},
			SecuritySchemes: apiKeyScheme(),
			Interface:       textIface,
			Provider:        &provider{Organization: "LegalOps"},
			Skills: []skill{
				{ID: "clause-extraction", Name: "Clause Extraction", Description: "Extract and categorise key clauses from contract documents", Tags: []string{"legal", "contracts"}},
				{ID: "risk-flagging", Name: "Risk Flagging", Description: "Identify non-standard or high-risk terms", Tags: []string{"legal", "risk"}},
			},
		},
	},
}
