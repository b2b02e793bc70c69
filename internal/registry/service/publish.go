// Package service contains the registry's business logic: publishing,
// discovery, entitlements. Services speak model types and depend on small
// consumer-side interfaces satisfied by the repository, search, cache, and
// fetch layers.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/cardfetch"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/internal/search"
	"github.com/agentdex/agentdex/pkg/agentcard"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// agentWriter is the persistence interface for publishing.
// *repository.AgentRepository satisfies this interface.
type agentWriter interface {
	GetByName(ctx context.Context, tenantID string, publisherID uuid.UUID, name string) (*model.AgentRecord, error)
	CountByPublisher(ctx context.Context, publisherID uuid.UUID) (int, error)
	UpsertPublisher(ctx context.Context, tenantID, subject, displayName string) (*model.Publisher, error)
	UpsertVersionStaged(ctx context.Context, tenantID string, pub *model.Publisher, name string,
		public bool, version string, card []byte, contentHash string, source model.Source,
		sourceURL string, federatedFrom *uuid.UUID, stage func(*model.UpsertOutcome) error) (*model.UpsertOutcome, error)
}

// cardFetcher retrieves by-URL cards. *cardfetch.Fetcher satisfies this.
type cardFetcher interface {
	Get(ctx context.Context, rawURL, bearer string) (*cardfetch.Result, error)
}

// indexQueue reserves slots in the async index pipeline.
// *search.Indexer satisfies this.
type indexQueue interface {
	Reserve(ctx context.Context) (*search.Reservation, error)
}

// responseCache is the read-path cache invalidated on writes.
// *cache.Cache satisfies this.
type responseCache interface {
	InvalidateTenant(tenant string) int
}

// entitlementGranter creates visibility grants.
// *repository.EntitlementRepository satisfies this.
type entitlementGranter interface {
	Grant(ctx context.Context, tenantID, subject string, agentID uuid.UUID) (*model.Entitlement, error)
}

// PublishService accepts agent cards into the registry.
type PublishService struct {
	agents    agentWriter
	grants    entitlementGranter
	fetch     cardFetcher
	queue     indexQueue
	cache     responseCache
	maxAgents int // per-publisher record quota
	logger    *zap.Logger
}

// NewPublishService creates a PublishService. maxAgents caps live records
// per publisher; zero means 100.
func NewPublishService(agents agentWriter, grants entitlementGranter, fetch cardFetcher, queue indexQueue, cache responseCache, maxAgents int, logger *zap.Logger) *PublishService {
	if maxAgents <= 0 {
		maxAgents = 100
	}
	return &PublishService{
		agents:    agents,
		grants:    grants,
		fetch:     fetch,
		queue:     queue,
		cache:     cache,
		maxAgents: maxAgents,
		logger:    logger,
	}
}

// PublishInput is one publish request. Exactly one of CardJSON and CardURL
// is set.
type PublishInput struct {
	Principal *auth.Principal
	CardJSON  []byte
	CardURL   string
	Public    bool
}

// Publish validates and stores a card under the caller's publisher identity.
// Re-publishing byte-identical content is an idempotent no-op. The publish
// commits only if the search indexer can accept the update; a saturated
// queue rolls the transaction back and surfaces as CodeOverloaded.
func (s *PublishService) Publish(ctx context.Context, in PublishInput) (*model.UpsertOutcome, error) {
	p := in.Principal
	if !p.HasRole(model.RoleCatalogManager) {
		return nil, model.E(model.CodeForbidden, "publishing requires the CatalogManager role")
	}

	raw := in.CardJSON
	source := model.SourceByValue
	if in.CardURL != "" {
		res, err := s.fetch.Get(ctx, in.CardURL, "")
		if err != nil {
			return nil, model.Wrap(model.CodeUpstream, "fetching card from source URL failed", err)
		}
		raw = res.Body
		source = model.SourceByURL
	}

	card, err := agentcard.Parse(raw)
	if err != nil {
		if verr, ok := err.(*agentcard.ValidationError); ok {
			return nil, model.InvalidCard(verr)
		}
		return nil, err
	}

	// A card naming a provider organization must come from that organization,
	// unless an administrator is acting on its behalf.
	if card.Provider != nil && !p.HasRole(model.RoleAdministrator) &&
		!strings.EqualFold(card.Provider.Organization, p.DisplayName) {
		return nil, model.E(model.CodeForbidden, "provider.organization does not match the publishing identity")
	}

	pub, err := s.agents.UpsertPublisher(ctx, p.TenantID, p.Subject, p.DisplayName)
	if err != nil {
		return nil, err
	}

	existing, err := s.agents.GetByName(ctx, p.TenantID, pub.ID, card.Name)
	switch {
	case model.IsCode(err, model.CodeNotFound):
		count, err := s.agents.CountByPublisher(ctx, pub.ID)
		if err != nil {
			return nil, err
		}
		if count >= s.maxAgents {
			return nil, model.E(model.CodeForbidden, "publisher agent quota exceeded")
		}
	case err != nil:
		return nil, err
	default:
		if existing.Federated() {
			return nil, model.E(model.CodeForbidden, "federated agents cannot be modified by local publish")
		}
	}

	signatureOK := s.verifySignature(ctx, card)

	var res *search.Reservation
	outcome, err := s.agents.UpsertVersionStaged(ctx, p.TenantID, pub, card.Name, in.Public,
		card.Version, card.CanonicalJSON(), card.ContentHash(), source, in.CardURL, nil,
		func(o *model.UpsertOutcome) error {
			if !o.Created {
				return nil
			}
			r, err := s.queue.Reserve(ctx)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	if err != nil {
		if res != nil {
			res.Release()
		}
		return nil, err
	}

	if outcome.Created {
		if res != nil {
			res.Submit(outcome.Record.ID)
		}
		// Publishers always see their own agents, public or not.
		if _, err := s.grants.Grant(ctx, p.TenantID, p.Subject, outcome.Record.ID); err != nil {
			s.logger.Warn("self-entitlement grant failed",
				zap.String("agent_id", outcome.Record.ID.String()), zap.Error(err))
		}
		s.cache.InvalidateTenant(p.TenantID)
	}

	s.logger.Info("agent published",
		zap.String("tenant_id", p.TenantID),
		zap.String("agent_id", outcome.Record.ID.String()),
		zap.String("name", outcome.Record.Name),
		zap.String("version", outcome.Version.Version),
		zap.String("source", string(source)),
		zap.Bool("created", outcome.Created),
		zap.Bool("public", outcome.Record.Public),
		zap.Bool("signature_verified", signatureOK))
	return outcome, nil
}

// verifySignature checks an optional detached JWS against the card's JWKS
// URL. For local publishes verification is best-effort: failures are logged,
// never fatal, and a card without a signature reports false. Federated cards
// get the fatal version of this check in the sync manager.
func (s *PublishService) verifySignature(ctx context.Context, card *agentcard.Card) bool {
	if card.Signature == nil || card.Signature.JWKSURL == "" {
		return false
	}

	vctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := card.VerifySignature(vctx, nil); err != nil {
		s.logger.Warn("card signature verification failed",
			zap.String("jwks_url", card.Signature.JWKSURL), zap.Error(err))
		return false
	}
	return true
}
