package repository

import (
	"context"
	"fmt"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/pkg/agentcard"
	"github.com/google/uuid"
)

// LoadView reads an agent's current head and projects it for the search
// index. A soft-deleted or absent agent yields (nil, nil) so the caller can
// translate it into an index delete.
func (r *AgentRepository) LoadView(ctx context.Context, agentID uuid.UUID) (*model.AgentView, error) {
	rec, err := r.GetByID(ctx, agentID)
	if model.IsCode(err, model.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := r.GetVersion(ctx, rec.LatestVersionID)
	if err != nil {
		return nil, err
	}
	card, err := agentcard.Parse(v.Card)
	if err != nil {
		return nil, fmt.Errorf("stored card for agent %s: %w", agentID, err)
	}
	return model.BuildView(rec, v, card), nil
}

// AllViews streams every live agent's view, used to rebuild the search
// index at startup.
func (r *AgentRepository) AllViews(ctx context.Context, fn func(*model.AgentView) error) error {
	return r.AllLiveViews(ctx, func(rec *model.AgentRecord, v *model.AgentVersion) error {
		card, err := agentcard.Parse(v.Card)
		if err != nil {
			return fmt.Errorf("stored card for agent %s: %w", rec.ID, err)
		}
		return fn(model.BuildView(rec, v, card))
	})
}
