//go:build ignore

// probe-agent-cards.go checks a list of domains for /.well-known/agent.json
// and related agent discovery endpoints. Hits are candidates for
// `adx publish <url>`.
//
// Run with: go run scripts/probe-agent-cards.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Domains to probe — AI labs, agent platforms, and developer infrastructure
// likely to publish agent cards first.
var domains = []string{
	// AI labs & model providers
	"openai.com", "anthropic.com", "google.com", "microsoft.com",
	"mistral.ai", "cohere.com", "meta.com", "deepmind.google",
	"stability.ai", "huggingface.co", "replicate.com",

	// Agent platforms & frameworks
	"langchain.com", "crewai.com", "agentops.ai",
	"dust.tt", "superagent.sh", "relevanceai.com",
	"taskade.com", "gumloop.com", "lindy.ai",

	// API / developer infrastructure
	"stripe.com", "twilio.com", "plaid.com",

	// Enterprise SaaS
	"salesforce.com", "hubspot.com", "zendesk.com",
	"atlassian.com", "notion.so", "airtable.com",
	"zapier.com", "make.com", "n8n.io",

	// Cloud providers
	"aws.amazon.com", "cloud.google.com", "azure.microsoft.com",

	// Agent-native startups
	"perplexity.ai", "you.com", "phind.com", "poe.com",
	"character.ai", "imbue.com", "moveworks.com",

	// Well-known .well-known implementors (for baseline)
	"cloudflare.com", "github.com", "gitlab.com",
}

// Alternative discovery paths used by neighbouring protocols.
var altPaths = []string{
	"/.well-known/agent.json",        // A2A agent card (ours)
	"/.well-known/agents/index.json", // registry federation index (ours)
	"/.well-known/agent-card.json",   // older A2A drafts
	"/.well-known/ai-plugin.json",    // OpenAI plugin manifest (legacy)
	"/.well-known/mcp.json",          // potential MCP discovery
}

type result struct {
	domain   string
	path     string
	status   int
	bodySnip string // first 200 chars
	err      string
	latency  time.Duration
}

func probe(domain, path string, client *http.Client) result {
	url := "https://" + domain + path
	start := time.Now()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return result{domain: domain, path: path, err: err.Error()}
	}
	req.Header.Set("User-Agent", "agentdex-probe/0.1 (agent card discovery)")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{domain: domain, path: path, err: msg, latency: latency}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	snip := strings.TrimSpace(string(body))
	if len(snip) > 200 {
		snip = snip[:200] + "…"
	}

	return result{
		domain:   domain,
		path:     path,
		status:   resp.StatusCode,
		bodySnip: snip,
		latency:  latency,
	}
}

func isJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func main() {
	httpClient := &http.Client{
		Timeout: 8 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
		},
	}

	type job struct {
		domain, path string
	}

	jobs := make(chan job, len(domains)*len(altPaths))
	results := make(chan result, len(domains)*len(altPaths))

	// Worker pool — 20 concurrent probes
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- probe(j.domain, j.path, httpClient)
			}
		}()
	}

	total := 0
	for _, d := range domains {
		for _, p := range altPaths {
			jobs <- job{d, p}
			total++
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect
	var hits []result
	var jsonHits []result
	checked := 0
	for r := range results {
		checked++
		fmt.Printf("\r  probing... %d/%d", checked, total)

		if r.status == 200 {
			hits = append(hits, r)
			if isJSON(r.bodySnip) {
				jsonHits = append(jsonHits, r)
			}
		}
	}
	fmt.Printf("\r  done — %d endpoints probed\n\n", total)

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].domain < hits[j].domain
	})

	// ── Report ────────────────────────────────────────────────────────────────
	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  Agent Card Discovery Probe Results\n")
	fmt.Printf("  Domains checked: %d  |  Paths per domain: %d\n", len(domains), len(altPaths))
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	if len(hits) == 0 {
		fmt.Println("  No 200 responses found on any discovery path.")
		fmt.Println("  Nothing to publish yet; re-run as adoption spreads.")
		return
	}

	fmt.Printf("  200 OK responses: %d\n", len(hits))
	fmt.Printf("  JSON responses:   %d\n\n", len(jsonHits))

	if len(jsonHits) > 0 {
		fmt.Println("── JSON hits (candidate cards) ──")
		for _, r := range jsonHits {
			fmt.Printf("\n  ✦ https://%s%s  (%dms)\n", r.domain, r.path, r.latency.Milliseconds())
			var v any
			if err := json.Unmarshal([]byte(r.bodySnip), &v); err == nil {
				b, _ := json.MarshalIndent(v, "    ", "  ")
				fmt.Printf("    %s\n", string(b))
			} else {
				fmt.Printf("    %s\n", r.bodySnip)
			}
			fmt.Printf("    try: adx publish https://%s%s\n", r.domain, r.path)
		}
		fmt.Println()
	}

	nonJSON := []result{}
	for _, r := range hits {
		if !isJSON(r.bodySnip) {
			nonJSON = append(nonJSON, r)
		}
	}
	if len(nonJSON) > 0 {
		fmt.Println("── 200 OK but non-JSON (HTML/redirect/placeholder) ──")
		for _, r := range nonJSON {
			fmt.Printf("  • https://%s%s  (%dms)\n", r.domain, r.path, r.latency.Milliseconds())
		}
		fmt.Println()
	}

	fmt.Println("══════════════════════════════════════════════════════")
}
