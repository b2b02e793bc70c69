package service

import (
	"context"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/internal/search"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// agentReader is the persistence interface for discovery.
// *repository.AgentRepository satisfies this interface.
type agentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.AgentRecord, error)
	GetLatest(ctx context.Context, agentID uuid.UUID) (*model.AgentVersion, error)
	ListForTenant(ctx context.Context, tenantID string, cursor *model.Cursor, limit int, filter model.ListFilter) ([]*model.AgentRecord, error)
	ListPublic(ctx context.Context, cursor *model.Cursor, limit int) ([]*model.AgentRecord, error)
	CountAgents(ctx context.Context) (total, public int, err error)
}

// entitlementReader answers visibility questions.
// *repository.EntitlementRepository satisfies this.
type entitlementReader interface {
	HasAny(ctx context.Context, tenantID string, agentID uuid.UUID, subjects []string) (bool, error)
	FilterEntitled(ctx context.Context, tenantID string, agentIDs []uuid.UUID, subjects []string) (map[uuid.UUID]bool, error)
}

// searchIndex is the query side of the search pipeline.
// *search.Index satisfies this.
type searchIndex interface {
	Search(q search.Query) []search.Hit
	Len() int
}

// repairCounter exposes the index repair backlog for /stats.
// *repository.RepairLogRepository satisfies this.
type repairCounter interface {
	Count(ctx context.Context) (int, error)
}

// DiscoveryService answers reads: get, list, search, stats. Every answer is
// filtered by the caller's visibility; an invisible agent is reported as
// not found, never as forbidden.
type DiscoveryService struct {
	agents       agentReader
	entitlements entitlementReader
	index        searchIndex
	repair       repairCounter
	logger       *zap.Logger
}

// NewDiscoveryService creates a DiscoveryService.
func NewDiscoveryService(agents agentReader, entitlements entitlementReader, index searchIndex, repair repairCounter, logger *zap.Logger) *DiscoveryService {
	return &DiscoveryService{
		agents:       agents,
		entitlements: entitlements,
		index:        index,
		repair:       repair,
		logger:       logger,
	}
}

// Get returns an agent's record and latest version if the caller may see it.
func (s *DiscoveryService) Get(ctx context.Context, p *auth.Principal, agentID uuid.UUID) (*model.AgentRecord, *model.AgentVersion, error) {
	rec, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	visible, err := s.visible(ctx, p, rec)
	if err != nil {
		return nil, nil, err
	}
	if !visible {
		return nil, nil, model.NotFound("agent")
	}
	version, err := s.agents.GetLatest(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	return rec, version, nil
}

// ListPublic returns the newest public records across all tenants, up to
// limit. No authentication is involved; public rows are visible to anyone.
func (s *DiscoveryService) ListPublic(ctx context.Context, limit int) ([]*model.AgentRecord, error) {
	return s.agents.ListPublic(ctx, nil, limit)
}

// List pages the caller's visible agents within their tenant, newest first.
// The returned cursor is empty when the listing is exhausted.
func (s *DiscoveryService) List(ctx context.Context, p *auth.Principal, cursor *model.Cursor, limit int, filter model.ListFilter) (*model.Page[*model.AgentRecord], error) {
	if !p.HasRole(model.RoleAdministrator) {
		filter.EntitledBy = p.EntitlementSubjects()
	}
	records, err := s.agents.ListForTenant(ctx, p.TenantID, cursor, limit, filter)
	if err != nil {
		return nil, err
	}
	return pageOf(records, limit), nil
}

// SearchParams are the discovery search inputs, already clamped.
type SearchParams struct {
	Text         string
	Tags         []string
	Capabilities []string
	Schemes      []string
	Transport    string
	Publisher    string
	Public       *bool
	Top          int
	Skip         int
}

// Search ranks the caller's visible agents against the query.
func (s *DiscoveryService) Search(ctx context.Context, p *auth.Principal, params SearchParams) ([]search.Hit, error) {
	if params.Top == 0 {
		return nil, nil
	}

	// Fetch unwindowed, filter by entitlement, then window: a private hit
	// the caller cannot see must not consume a result slot.
	hits := s.index.Search(search.Query{
		Text:         params.Text,
		TenantID:     p.TenantID,
		Tags:         params.Tags,
		Capabilities: params.Capabilities,
		Schemes:      params.Schemes,
		Transport:    params.Transport,
	})

	if params.Publisher != "" || params.Public != nil {
		filtered := hits[:0]
		for _, h := range hits {
			if params.Publisher != "" && h.View.PublisherName != params.Publisher {
				continue
			}
			if params.Public != nil && h.View.Public != *params.Public {
				continue
			}
			filtered = append(filtered, h)
		}
		hits = filtered
	}

	if !p.HasRole(model.RoleAdministrator) {
		var privateIDs []uuid.UUID
		for _, h := range hits {
			if !h.View.Public {
				privateIDs = append(privateIDs, h.View.ID)
			}
		}
		if len(privateIDs) > 0 {
			entitled, err := s.entitlements.FilterEntitled(ctx, p.TenantID, privateIDs, p.EntitlementSubjects())
			if err != nil {
				return nil, err
			}
			visible := hits[:0]
			for _, h := range hits {
				if h.View.Public || entitled[h.View.ID] {
					visible = append(visible, h)
				}
			}
			hits = visible
		}
	}

	if params.Skip >= len(hits) {
		return nil, nil
	}
	hits = hits[params.Skip:]
	if len(hits) > params.Top {
		hits = hits[:params.Top]
	}
	return hits, nil
}

// Stats reports registry-wide counters.
type Stats struct {
	TotalAgents   int `json:"totalAgents"`
	PublicAgents  int `json:"publicAgents"`
	IndexedAgents int `json:"indexedAgents"`
	RepairBacklog int `json:"indexRepairBacklog"`
}

// Stats returns registry-wide counters for the admin stats endpoint.
func (s *DiscoveryService) Stats(ctx context.Context) (*Stats, error) {
	total, public, err := s.agents.CountAgents(ctx)
	if err != nil {
		return nil, err
	}
	backlog, err := s.repair.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalAgents:   total,
		PublicAgents:  public,
		IndexedAgents: s.index.Len(),
		RepairBacklog: backlog,
	}, nil
}

func (s *DiscoveryService) visible(ctx context.Context, p *auth.Principal, rec *model.AgentRecord) (bool, error) {
	if rec.Public {
		return true, nil
	}
	if rec.TenantID != p.TenantID {
		return false, nil
	}
	if p.HasRole(model.RoleAdministrator) {
		return true, nil
	}
	return s.entitlements.HasAny(ctx, rec.TenantID, rec.ID, p.EntitlementSubjects())
}

// pageOf wraps records and, when the page is full, a cursor pointing past
// its last row.
func pageOf(records []*model.AgentRecord, limit int) *model.Page[*model.AgentRecord] {
	page := &model.Page[*model.AgentRecord]{Items: records}
	if len(records) == limit && limit > 0 {
		last := records[len(records)-1]
		page.NextCursor = model.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.Encode()
	}
	return page
}
