package model

import (
	"github.com/agentdex/agentdex/pkg/agentcard"
)

// BuildView projects a record and its latest card into the denormalized
// shape used by the search index and discovery listings.
func BuildView(rec *AgentRecord, v *AgentVersion, card *agentcard.Card) *AgentView {
	var skillText []string
	for _, s := range card.Skills {
		if s.Name != "" {
			skillText = append(skillText, s.Name)
		}
		if s.Description != "" {
			skillText = append(skillText, s.Description)
		}
	}
	return &AgentView{
		ID:            rec.ID,
		TenantID:      rec.TenantID,
		PublisherID:   rec.PublisherID,
		PublisherName: rec.PublisherName,
		Name:          rec.Name,
		Description:   card.Description,
		Version:       v.Version,
		Tags:          card.Tags(),
		Capabilities:  card.Capabilities,
		SchemeTypes:   card.SchemeTypes(),
		Transport:     card.Interface.PreferredTransport,
		Public:        rec.Public,
		FederatedFrom: rec.FederatedFrom,
		UpdatedAt:     rec.UpdatedAt,
		SkillText:     skillText,
	}
}
