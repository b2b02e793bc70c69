// Package auth verifies bearer tokens and carries the resulting principal
// through request handling. Tokens are RS256 JWTs, verified either against
// a local key pair (the built-in dev issuer) or a remote JWKS endpoint.
package auth

import (
	"github.com/agentdex/agentdex/internal/registry/model"
)

// Principal is a verified caller identity.
type Principal struct {
	Subject     string
	TenantID    string
	Roles       []model.Role
	ConsumerID  string
	DisplayName string
}

// HasRole reports whether the principal carries role. Administrator implies
// every other role.
func (p *Principal) HasRole(role model.Role) bool {
	for _, r := range p.Roles {
		if r == role || r == model.RoleAdministrator {
			return true
		}
	}
	return false
}

// EntitlementSubjects returns every subject the principal can match an
// entitlement against: its own id, its consumer id, and its role names.
func (p *Principal) EntitlementSubjects() []string {
	subjects := make([]string, 0, len(p.Roles)+2)
	subjects = append(subjects, p.Subject)
	if p.ConsumerID != "" {
		subjects = append(subjects, p.ConsumerID)
	}
	for _, r := range p.Roles {
		subjects = append(subjects, string(r))
	}
	return subjects
}
