package service

import (
	"context"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// entitlementStore is the persistence interface for grant management.
// *repository.EntitlementRepository satisfies this.
type entitlementStore interface {
	Grant(ctx context.Context, tenantID, subject string, agentID uuid.UUID) (*model.Entitlement, error)
	Revoke(ctx context.Context, tenantID, subject string, agentID uuid.UUID) error
	ListForAgent(ctx context.Context, tenantID string, agentID uuid.UUID) ([]*model.Entitlement, error)
}

// agentChecker resolves grant targets.
// *repository.AgentRepository satisfies this.
type agentChecker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.AgentRecord, error)
}

// EntitlementService manages visibility grants for non-public agents.
type EntitlementService struct {
	agents       agentChecker
	entitlements entitlementStore
	cache        responseCache
	logger       *zap.Logger
}

// NewEntitlementService creates an EntitlementService.
func NewEntitlementService(agents agentChecker, entitlements entitlementStore, cache responseCache, logger *zap.Logger) *EntitlementService {
	return &EntitlementService{
		agents:       agents,
		entitlements: entitlements,
		cache:        cache,
		logger:       logger,
	}
}

// Grant gives subject visibility of the agent. Granting an already-active
// entitlement is idempotent.
func (s *EntitlementService) Grant(ctx context.Context, p *auth.Principal, agentID uuid.UUID, subject string) (*model.Entitlement, error) {
	rec, err := s.authorize(ctx, p, agentID)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, model.E(model.CodeInvalidRequest, "entitlement subject is required")
	}

	e, err := s.entitlements.Grant(ctx, rec.TenantID, subject, agentID)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateTenant(rec.TenantID)
	s.logger.Info("entitlement granted",
		zap.String("tenant_id", rec.TenantID),
		zap.String("agent_id", agentID.String()),
		zap.String("subject", subject))
	return e, nil
}

// Revoke removes subject's visibility of the agent. Revoking an absent
// grant is a no-op.
func (s *EntitlementService) Revoke(ctx context.Context, p *auth.Principal, agentID uuid.UUID, subject string) error {
	rec, err := s.authorize(ctx, p, agentID)
	if err != nil {
		return err
	}
	if err := s.entitlements.Revoke(ctx, rec.TenantID, subject, agentID); err != nil {
		return err
	}
	s.cache.InvalidateTenant(rec.TenantID)
	s.logger.Info("entitlement revoked",
		zap.String("tenant_id", rec.TenantID),
		zap.String("agent_id", agentID.String()),
		zap.String("subject", subject))
	return nil
}

// List returns the agent's active grants.
func (s *EntitlementService) List(ctx context.Context, p *auth.Principal, agentID uuid.UUID) ([]*model.Entitlement, error) {
	rec, err := s.authorize(ctx, p, agentID)
	if err != nil {
		return nil, err
	}
	return s.entitlements.ListForAgent(ctx, rec.TenantID, agentID)
}

// authorize checks the caller may manage grants on the agent: it must exist
// in the caller's tenant, and the caller needs CatalogManager.
func (s *EntitlementService) authorize(ctx context.Context, p *auth.Principal, agentID uuid.UUID) (*model.AgentRecord, error) {
	if !p.HasRole(model.RoleCatalogManager) {
		return nil, model.E(model.CodeForbidden, "managing entitlements requires the CatalogManager role")
	}
	rec, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != p.TenantID {
		return nil, model.NotFound("agent")
	}
	return rec, nil
}
