package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentdex/agentdex/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	cfgFile     string
	bearerToken string
	clientID    string
	insecure    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adx",
	Short: "agentdex registry CLI",
	Long: `adx is the command-line interface for an agentdex registry.

It publishes agent cards, searches the catalog, manages entitlements,
and administers federation peers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.adx")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("adx")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
		if clientID == "" {
			clientID = viper.GetString("client_id")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.adx/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "bearer token (overrides client credentials)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "OAuth2 client id for the registry's token endpoint")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification (development only)")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(entitleCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient assembles SDK options from flags and config. The client secret is
// never accepted as a flag; it comes from ADX_CLIENT_SECRET or the config
// file so it stays out of shell history.
func newClient() (*client.Client, error) {
	var opts []client.Option
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	switch {
	case bearerToken != "":
		opts = append(opts, client.WithBearerToken(bearerToken))
	case clientID != "":
		secret := viper.GetString("client_secret")
		if secret == "" {
			return nil, fmt.Errorf("client secret missing: set ADX_CLIENT_SECRET or client_secret in the config file")
		}
		opts = append(opts, client.WithClientCredentials(clientID, secret))
	}
	return client.New(registryURL, opts...)
}

// ── publish ──────────────────────────────────────────────────────────────────

// publishRow holds the outcome of a single card publish.
type publishRow struct {
	source string
	result *client.PublishResult
	err    error
}

var (
	publishPublic bool
	publishFormat string
)

var publishCmd = &cobra.Command{
	Use:   "publish <card.json | https://...> [more...]",
	Short: "Publish one or more agent cards",
	Long: `Publish validates and stores agent cards in the registry.

Each argument is either a local card file or an https:// URL the registry
fetches itself. Multiple cards are published concurrently:

  adx publish agent.json
  adx publish --public https://agents.example.com/.well-known/agent.json
  adx publish cards/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishPublic, "public", false, "make the agent visible to all registries and callers")
	publishCmd.Flags().StringVar(&publishFormat, "format", "text", "output format: text or json")
}

func runPublish(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	// Publish all cards concurrently.
	resultsCh := make(chan publishRow, len(args))
	for _, source := range args {
		source := source
		go func() {
			var res *client.PublishResult
			var err error
			if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
				res, err = c.PublishURL(ctx, source, publishPublic)
			} else {
				var card []byte
				card, err = os.ReadFile(source)
				if err == nil {
					res, err = c.PublishCard(ctx, card, publishPublic)
				}
			}
			resultsCh <- publishRow{source: source, result: res, err: err}
		}()
	}

	// Collect in input order.
	bySource := make(map[string]publishRow, len(args))
	for range args {
		r := <-resultsCh
		bySource[r.source] = r
	}
	ordered := make([]publishRow, len(args))
	for i, source := range args {
		ordered[i] = bySource[source]
	}

	if publishFormat == "json" {
		return printPublishJSON(ordered)
	}
	return printPublishText(ordered)
}

func printPublishJSON(rows []publishRow) error {
	type jsonRow struct {
		Source    string `json:"source"`
		AgentID   string `json:"agentId,omitempty"`
		VersionID string `json:"versionId,omitempty"`
		Created   bool   `json:"created,omitempty"`
		Error     string `json:"error,omitempty"`
	}
	out := make([]jsonRow, len(rows))
	for i, r := range rows {
		if r.err != nil {
			out[i] = jsonRow{Source: r.source, Error: r.err.Error()}
		} else {
			out[i] = jsonRow{
				Source:    r.source,
				AgentID:   r.result.AgentID,
				VersionID: r.result.VersionID,
				Created:   r.result.Created,
			}
		}
	}
	var v any = out
	if len(out) == 1 {
		v = out[0]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPublishText(rows []publishRow) error {
	failed := 0
	if len(rows) == 1 {
		r := rows[0]
		if r.err != nil {
			return fmt.Errorf("publish %q: %w", r.source, r.err)
		}
		if r.result.Created {
			fmt.Printf("✓ Published\n\n")
		} else {
			fmt.Printf("✓ Already published (unchanged)\n\n")
		}
		fmt.Printf("  Agent:   %s\n", r.result.AgentID)
		fmt.Printf("  Version: %s\n\n", r.result.VersionID)
		fmt.Printf("Next: adx get %s\n", r.result.AgentID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tAGENT\tSTATE\tERROR")
	for _, r := range rows {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "%s\t\t\t%s\n", r.source, r.err.Error())
			continue
		}
		state := "created"
		if !r.result.Created {
			state = "unchanged"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", r.source, r.result.AgentID, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cards failed to publish", failed, len(rows))
	}
	return nil
}

// ── search ───────────────────────────────────────────────────────────────────

var (
	searchTags      []string
	searchPublisher string
	searchTransport string
	searchSecurity  []string
	searchTop       int
	searchSkip      int
	searchFormat    string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the catalog with relevance ranking",
	Long: `Search matches the query against agent names, descriptions, skills, and
tags, scoped to what the caller is entitled to see. Authentication is
required; anonymous callers should use 'adx list' instead.

  adx search "invoice processing" --tag finance --transport jsonrpc`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		page, err := c.Search(context.Background(), client.SearchQuery{
			Q:         args[0],
			Tags:      searchTags,
			Publisher: searchPublisher,
			Transport: searchTransport,
			Security:  searchSecurity,
			Top:       searchTop,
			Skip:      searchSkip,
		})
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if searchFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}

		if len(page.Items) == 0 {
			fmt.Println("No agents matched.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tNAME\tPUBLISHER\tVERSION\tVISIBILITY\tID")
		for _, hit := range page.Items {
			visibility := "private"
			if hit.Public {
				visibility = "public"
			}
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\t%s\t%s\n",
				hit.Score, hit.Name, hit.PublisherName, hit.Version, visibility, hit.ID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if page.NextSkip != nil {
			fmt.Printf("\nMore results: adx search %q --skip %d\n", args[0], *page.NextSkip)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "require a skill tag (repeatable)")
	searchCmd.Flags().StringVar(&searchPublisher, "publisher", "", "filter by publisher name")
	searchCmd.Flags().StringVar(&searchTransport, "transport", "", "filter by preferred transport (jsonrpc, grpc, http)")
	searchCmd.Flags().StringSliceVar(&searchSecurity, "security", nil, "require a security scheme type (repeatable)")
	searchCmd.Flags().IntVar(&searchTop, "top", 0, "page size (server default when 0)")
	searchCmd.Flags().IntVar(&searchSkip, "skip", 0, "results to skip")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "output format: text or json")
}

// ── get ──────────────────────────────────────────────────────────────────────

var (
	getCardOnly bool
	getFormat   string
)

var getCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Fetch one agent and its latest card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		if getCardOnly {
			card, err := c.GetCard(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get card: %w", err)
			}
			fmt.Println(string(card))
			return nil
		}

		detail, err := c.GetAgent(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}

		if getFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(detail)
		}

		visibility := "private"
		if detail.Agent.Public {
			visibility = "public"
		}
		fmt.Printf("Name:       %s\n", detail.Agent.Name)
		fmt.Printf("Publisher:  %s\n", detail.Agent.PublisherName)
		fmt.Printf("Tenant:     %s\n", detail.Agent.TenantID)
		fmt.Printf("Version:    %s\n", detail.Version)
		fmt.Printf("Visibility: %s\n", visibility)
		fmt.Printf("Hash:       %s\n", detail.ContentHash)
		if detail.Agent.FederatedFrom != "" {
			fmt.Printf("Mirror of:  peer %s\n", detail.Agent.FederatedFrom)
		}
		fmt.Printf("Updated:    %s\n\n", detail.Agent.UpdatedAt.Format(time.RFC3339))
		fmt.Printf("Card: adx get --card %s\n", detail.Agent.ID)
		return nil
	},
}

func init() {
	getCmd.Flags().BoolVar(&getCardOnly, "card", false, "print the canonical card JSON only")
	getCmd.Flags().StringVar(&getFormat, "format", "text", "output format: text or json")
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listEntitled bool
	listTop      int
	listSkip     int
	listFormat   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List public agents, or everything the caller can see",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		var page *client.Page[client.Agent]
		if listEntitled {
			page, err = c.ListEntitled(context.Background(), listTop, listSkip)
		} else {
			page, err = c.ListPublic(context.Background(), listTop, listSkip)
		}
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}

		if listFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}

		if len(page.Items) == 0 {
			fmt.Println("No agents.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPUBLISHER\tVISIBILITY\tUPDATED\tID")
		for _, a := range page.Items {
			visibility := "private"
			if a.Public {
				visibility = "public"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.Name, a.PublisherName, visibility, a.UpdatedAt.Format("2006-01-02 15:04"), a.ID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if page.NextSkip != nil {
			fmt.Printf("\nMore: adx list --skip %d\n", *page.NextSkip)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listEntitled, "entitled", false, "include private agents the caller is entitled to (requires auth)")
	listCmd.Flags().IntVar(&listTop, "top", 0, "page size (server default when 0)")
	listCmd.Flags().IntVar(&listSkip, "skip", 0, "results to skip")
	listCmd.Flags().StringVar(&listFormat, "format", "text", "output format: text or json")
}

// ── entitle ──────────────────────────────────────────────────────────────────

var entitleCmd = &cobra.Command{
	Use:   "entitle",
	Short: "Manage who can see a non-public agent",
	Long: `entitle controls visibility grants on private agents.

Grants name a subject (a client id); the subject then sees the agent in
listings, search, and direct reads. Only the publisher's tenant managers
may grant or revoke.`,
}

var entitleGrantCmd = &cobra.Command{
	Use:   "grant <agent-id> <subject>",
	Short: "Grant a subject visibility of an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.Grant(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("grant: %w", err)
		}
		fmt.Printf("✓ %s may now see agent %s\n", e.Subject, e.AgentID)
		return nil
	},
}

var entitleRevokeCmd = &cobra.Command{
	Use:   "revoke <agent-id> <subject>",
	Short: "Revoke a subject's visibility of an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Revoke(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("revoke: %w", err)
		}
		fmt.Printf("✓ Revoked %s from agent %s\n", args[1], args[0])
		return nil
	},
}

var entitleListCmd = &cobra.Command{
	Use:   "list <agent-id>",
	Short: "List the active grants on an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		grants, err := c.ListEntitlements(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list entitlements: %w", err)
		}
		if len(grants) == 0 {
			fmt.Println("No grants.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBJECT\tGRANTED")
		for _, g := range grants {
			fmt.Fprintf(w, "%s\t%s\n", g.Subject, g.GrantedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	entitleCmd.AddCommand(entitleGrantCmd)
	entitleCmd.AddCommand(entitleRevokeCmd)
	entitleCmd.AddCommand(entitleListCmd)
}

// ── peer ─────────────────────────────────────────────────────────────────────

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Administer federation peers (Administrator only)",
	Long: `peer manages the registries this one mirrors public agents from.

Each peer is polled on its sync interval; 'peer sync' forces a run now.
Mirrored agents land under the peer's configured tenant and stay visible
even while the peer is unreachable.`,
}

var (
	peerAddTenant   string
	peerAddTokenURL string
	peerAddClientID string
	peerAddSecret   string
	peerAddInterval int
)

var peerAddCmd = &cobra.Command{
	Use:   "add <name> <base-url>",
	Short: "Register a peer registry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		peer, err := c.CreatePeer(context.Background(), client.PeerRequest{
			Name:             args[0],
			BaseURL:          args[1],
			TenantID:         peerAddTenant,
			TokenURL:         peerAddTokenURL,
			ClientID:         peerAddClientID,
			ClientSecret:     peerAddSecret,
			SyncIntervalSecs: peerAddInterval,
		})
		if err != nil {
			return fmt.Errorf("add peer: %w", err)
		}
		fmt.Printf("✓ Peer registered\n\n")
		fmt.Printf("  ID:       %s\n", peer.ID)
		fmt.Printf("  Interval: %s\n\n", peer.SyncInterval)
		fmt.Printf("First sync: adx peer sync %s\n", peer.ID)
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		peers, err := c.ListPeers(context.Background())
		if err != nil {
			return fmt.Errorf("list peers: %w", err)
		}
		if len(peers) == 0 {
			fmt.Println("No peers.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBASE URL\tENABLED\tLAST SYNC\tSTATUS\tID")
		for _, p := range peers {
			lastSync := "never"
			if p.LastSyncAt != nil {
				lastSync = p.LastSyncAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
				p.Name, p.BaseURL, p.Enabled, lastSync, p.LastSyncStatus, p.ID)
		}
		return w.Flush()
	},
}

var peerSyncCmd = &cobra.Command{
	Use:   "sync <peer-id>",
	Short: "Force a sync of one peer now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.TriggerSync(context.Background(), args[0]); err != nil {
			return fmt.Errorf("trigger sync: %w", err)
		}
		fmt.Printf("✓ Sync started\n\nProgress: adx peer runs %s\n", args[0])
		return nil
	},
}

var peerRunsLimit int

var peerRunsCmd = &cobra.Command{
	Use:   "runs <peer-id>",
	Short: "Show a peer's recent sync runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		runs, err := c.ListRuns(context.Background(), args[0], peerRunsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATUS\tADDED\tUPDATED\tREMOVED\tFAILED\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Status,
				r.Added, r.Updated, r.Removed, r.Failed, r.Error)
		}
		return w.Flush()
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove <peer-id>",
	Short: "Remove a peer registration",
	Long: `Remove deletes the peer and its run history. Agents already mirrored
from the peer remain in the catalog until the next pruning sync of another
peer with the same tenant, or until removed by an administrator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeletePeer(context.Background(), args[0]); err != nil {
			return fmt.Errorf("remove peer: %w", err)
		}
		fmt.Printf("✓ Peer %s removed\n", args[0])
		return nil
	},
}

func init() {
	peerAddCmd.Flags().StringVar(&peerAddTenant, "tenant", "", "local tenant the mirrored agents land in")
	peerAddCmd.Flags().StringVar(&peerAddTokenURL, "token-url", "", "peer token endpoint for authenticated pulls")
	peerAddCmd.Flags().StringVar(&peerAddClientID, "peer-client-id", "", "client id at the peer")
	peerAddCmd.Flags().StringVar(&peerAddSecret, "peer-client-secret", "", "client secret at the peer")
	peerAddCmd.Flags().IntVar(&peerAddInterval, "interval", 0, "sync interval in seconds (server default when 0)")
	_ = peerAddCmd.MarkFlagRequired("tenant")

	peerRunsCmd.Flags().IntVar(&peerRunsLimit, "limit", 10, "number of runs to show")

	peerCmd.AddCommand(peerAddCmd)
	peerCmd.AddCommand(peerListCmd)
	peerCmd.AddCommand(peerSyncCmd)
	peerCmd.AddCommand(peerRunsCmd)
	peerCmd.AddCommand(peerRemoveCmd)
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry-wide counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		stats, err := c.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		fmt.Printf("Agents:         %d (%d public)\n", stats.TotalAgents, stats.PublicAgents)
		fmt.Printf("Indexed:        %d\n", stats.IndexedAgents)
		fmt.Printf("Repair backlog: %d\n", stats.IndexRepairBacklog)
		fmt.Printf("Peers:          %d\n", stats.Peers)
		return nil
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch an access token and print it",
	Long: `token exchanges the configured client credentials for an access token.
Useful for curl sessions and CI:

  export TOKEN=$(adx token --client-id publisher-1)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if clientID == "" {
			return fmt.Errorf("--client-id (or client_id in the config file) is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		token, err := c.FetchToken(context.Background())
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the adx CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adx %s\n", version)
	},
}
