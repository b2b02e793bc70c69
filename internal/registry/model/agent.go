package model

import (
	"time"

	"github.com/google/uuid"
)

// Source indicates how an agent version entered the registry.
type Source string

const (
	SourceByValue   Source = "by_value"
	SourceByURL     Source = "by_url"
	SourceFederated Source = "federated"
)

// Role is an access role carried by a verified principal.
type Role string

const (
	RoleAdministrator  Role = "Administrator"
	RoleCatalogManager Role = "CatalogManager"
	RoleUser           Role = "User"
)

// AgentRecord is the mutable head pointer for an agent within a tenant.
// Unique on (tenant_id, publisher_id, name).
type AgentRecord struct {
	ID              uuid.UUID  `json:"id"                      db:"id"`
	TenantID        string     `json:"tenantId"                db:"tenant_id"`
	PublisherID     uuid.UUID  `json:"publisherId"             db:"publisher_id"`
	PublisherName   string     `json:"publisherName"           db:"publisher_name"`
	Name            string     `json:"name"                    db:"name"`
	LatestVersionID uuid.UUID  `json:"latestVersionId"         db:"latest_version_id"`
	Public          bool       `json:"public"                  db:"public"`
	FederatedFrom   *uuid.UUID `json:"federatedFrom,omitempty" db:"federated_from"`
	CreatedAt       time.Time  `json:"createdAt"               db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt"               db:"updated_at"`
	DeletedAt       *time.Time `json:"-"                       db:"deleted_at"`
}

// Federated reports whether this record is a mirror pulled from a peer.
// Federated records are never mutated by local publish.
func (r *AgentRecord) Federated() bool { return r.FederatedFrom != nil }

// AgentVersion is an immutable snapshot of a published card.
// Unique on (agent_id, version) and on (agent_id, content_hash).
type AgentVersion struct {
	ID          uuid.UUID `json:"id"                  db:"id"`
	AgentID     uuid.UUID `json:"agentId"             db:"agent_id"`
	Version     string    `json:"version"             db:"version"`
	Card        []byte    `json:"-"                   db:"card"` // canonical JSON bytes
	ContentHash string    `json:"contentHash"         db:"content_hash"`
	Source      Source    `json:"source"              db:"source"`
	SourceURL   string    `json:"sourceUrl,omitempty" db:"source_url"`
	CreatedAt   time.Time `json:"createdAt"           db:"created_at"`
}

// Publisher is a logical producer identity within a tenant, derived from the
// authenticated principal (or synthetic "peer:{name}" for federated entries).
type Publisher struct {
	ID          uuid.UUID `json:"id"          db:"id"`
	TenantID    string    `json:"tenantId"    db:"tenant_id"`
	Subject     string    `json:"subject"     db:"subject"`
	DisplayName string    `json:"displayName" db:"display_name"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}

// Entitlement is a positive visibility grant for a non-public agent.
// Subject is a principal id, consumer id, or role name; resolution at query
// time is the union across all three.
type Entitlement struct {
	ID        uuid.UUID  `json:"id"                  db:"id"`
	TenantID  string     `json:"tenantId"            db:"tenant_id"`
	Subject   string     `json:"subject"             db:"subject"`
	AgentID   uuid.UUID  `json:"agentId"             db:"agent_id"`
	GrantedAt time.Time  `json:"grantedAt"           db:"granted_at"`
	RevokedAt *time.Time `json:"revokedAt,omitempty" db:"revoked_at"`
}

// Active reports whether the grant is currently in force.
func (e *Entitlement) Active() bool { return e.RevokedAt == nil }

// AgentView is the denormalized projection fed to the search index and
// returned by discovery list endpoints.
type AgentView struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      string          `json:"tenantId"`
	PublisherID   uuid.UUID       `json:"publisherId"`
	PublisherName string          `json:"publisherName"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Version       string          `json:"version"`
	Tags          []string        `json:"tags,omitempty"`
	Capabilities  map[string]bool `json:"capabilities,omitempty"`
	SchemeTypes   []string        `json:"securitySchemes,omitempty"`
	Transport     string          `json:"preferredTransport,omitempty"`
	Public        bool            `json:"public"`
	FederatedFrom *uuid.UUID      `json:"federatedFrom,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`

	// SkillText carries skill names and descriptions into the full-text
	// index; it is not part of the wire shape.
	SkillText []string `json:"-"`
}

// IndexRow is one public agent as advertised on the well-known index:
// enough for a peer to decide whether to fetch the full card.
type IndexRow struct {
	ID            uuid.UUID
	Name          string
	PublisherName string
	Version       string
	ContentHash   string
	UpdatedAt     time.Time
}

// FederatedEntry is one locally mirrored peer agent: its record id, local
// name, and latest content hash, as needed for sync diffing.
type FederatedEntry struct {
	RecordID    uuid.UUID
	Name        string
	ContentHash string
}

// UpsertOutcome reports what a publish did: Created is false when the card
// bytes deduplicated against an existing version.
type UpsertOutcome struct {
	Record  *AgentRecord
	Version *AgentVersion
	Created bool
}

// ListFilter narrows ListForTenant results.
type ListFilter struct {
	Public      *bool
	PublisherID *uuid.UUID
	EntitledBy  []string // entitlement subjects to union with public rows
}

// Page is a window of records plus the cursor for the next window.
// NextCursor is empty when the listing is exhausted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
