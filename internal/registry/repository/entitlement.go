package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntitlementRepository persists visibility grants.
type EntitlementRepository struct {
	db *pgxpool.Pool
}

// NewEntitlementRepository creates an EntitlementRepository.
func NewEntitlementRepository(db *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// Grant creates an active entitlement for (tenant, subject, agent). If an
// active grant already exists it is returned unchanged; after a revoke a new
// row with a fresh granted_at is inserted.
func (r *EntitlementRepository) Grant(ctx context.Context, tenantID, subject string, agentID uuid.UUID) (*model.Entitlement, error) {
	existing, err := r.active(ctx, tenantID, subject, agentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	e := &model.Entitlement{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Subject:   subject,
		AgentID:   agentID,
		GrantedAt: time.Now().UTC(),
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (id, tenant_id, subject, agent_id, granted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.TenantID, e.Subject, e.AgentID, e.GrantedAt,
	); err != nil {
		return nil, fmt.Errorf("insert entitlement: %w", err)
	}
	return e, nil
}

// Revoke marks all active grants for (tenant, subject, agent) as revoked.
// Revoking an absent grant is a no-op.
func (r *EntitlementRepository) Revoke(ctx context.Context, tenantID, subject string, agentID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE entitlements SET revoked_at = $4
		 WHERE tenant_id = $1 AND subject = $2 AND agent_id = $3 AND revoked_at IS NULL`,
		tenantID, subject, agentID, time.Now().UTC())
	return err
}

// ListForAgent returns active grants for one agent.
func (r *EntitlementRepository) ListForAgent(ctx context.Context, tenantID string, agentID uuid.UUID) ([]*model.Entitlement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, subject, agent_id, granted_at, revoked_at
		 FROM entitlements
		 WHERE tenant_id = $1 AND agent_id = $2 AND revoked_at IS NULL
		 ORDER BY granted_at`,
		tenantID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Entitlement
	for rows.Next() {
		var e model.Entitlement
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Subject, &e.AgentID, &e.GrantedAt, &e.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// HasAny reports whether any of the given subjects holds an active grant for
// the agent.
func (r *EntitlementRepository) HasAny(ctx context.Context, tenantID string, agentID uuid.UUID, subjects []string) (bool, error) {
	if len(subjects) == 0 {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM entitlements
		   WHERE tenant_id = $1 AND agent_id = $2 AND subject = ANY($3) AND revoked_at IS NULL
		 )`,
		tenantID, agentID, subjects).Scan(&exists)
	return exists, err
}

// FilterEntitled narrows agentIDs to those with an active grant for any of
// the subjects. Used to post-filter private search hits in one round trip.
func (r *EntitlementRepository) FilterEntitled(ctx context.Context, tenantID string, agentIDs []uuid.UUID, subjects []string) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(agentIDs))
	if len(agentIDs) == 0 || len(subjects) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT agent_id FROM entitlements
		 WHERE tenant_id = $1 AND agent_id = ANY($2) AND subject = ANY($3) AND revoked_at IS NULL`,
		tenantID, agentIDs, subjects)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *EntitlementRepository) active(ctx context.Context, tenantID, subject string, agentID uuid.UUID) (*model.Entitlement, error) {
	var e model.Entitlement
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, subject, agent_id, granted_at, revoked_at
		 FROM entitlements
		 WHERE tenant_id = $1 AND subject = $2 AND agent_id = $3 AND revoked_at IS NULL
		 ORDER BY granted_at DESC LIMIT 1`,
		tenantID, subject, agentID,
	).Scan(&e.ID, &e.TenantID, &e.Subject, &e.AgentID, &e.GrantedAt, &e.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
