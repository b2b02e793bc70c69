// Package federation mirrors public agents from peer registries. Each peer
// is pulled on its own schedule: the peer's public index is diffed against
// our local mirror set and additions, updates, and retractions are applied
// through the same store and index pipeline local publishes use.
package federation

import (
	"time"

	"github.com/google/uuid"
)

// PeerRegistry is one remote registry this node pulls from.
type PeerRegistry struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`     // unique; mirrors publish under "peer:{name}"
	BaseURL  string    `json:"baseUrl"`  // the peer's registry root
	TenantID string    `json:"tenantId"` // local tenant the mirrors land in

	// OAuth2 client-credentials for peers that gate their index. All three
	// empty means the peer index is fetched anonymously.
	TokenURL     string `json:"tokenUrl,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"-"`

	SyncInterval time.Duration `json:"syncInterval"`
	Enabled      bool          `json:"enabled"`

	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	LastSyncStatus string     `json:"lastSyncStatus,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Run statuses. A run is partial when the index walk itself succeeded but
// one or more entries were rejected; cancelled covers both deadline expiry
// and a peer disabled mid-sync.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// SyncRun is the bookkeeping row for one sync attempt against a peer.
type SyncRun struct {
	ID         uuid.UUID  `json:"id"`
	PeerID     uuid.UUID  `json:"peerId"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Added      int        `json:"added"`
	Updated    int        `json:"updated"`
	Removed    int        `json:"removed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// IndexEntry is one agent in a registry's public index. The same shape is
// served by our well-known index and consumed from peers.
type IndexEntry struct {
	Name        string    `json:"name"`
	Publisher   string    `json:"publisher"`
	Version     string    `json:"version"`
	ContentHash string    `json:"contentHash"`
	CardURL     string    `json:"cardUrl"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key identifies the entry within its registry: publisher-qualified name.
// Mirrors keep this as their local record name, so two remote publishers
// with the same agent name never collide.
func (e IndexEntry) Key() string { return e.Publisher + "/" + e.Name }

// IndexPage is one window of a registry's public index.
type IndexPage struct {
	Items      []IndexEntry `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}
