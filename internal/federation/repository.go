package federation

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

// Repository persists peers and sync runs.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreatePeer registers a peer.
func (r *Repository) CreatePeer(ctx context.Context, p *PeerRegistry) error {
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.Exec(ctx,
		`INSERT INTO peer_registries
		   (id, name, base_url, tenant_id, token_url, client_id, client_secret,
		    sync_interval_secs, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.BaseURL, p.TenantID, p.TokenURL, p.ClientID, p.ClientSecret,
		int(p.SyncInterval.Seconds()), p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert peer: %w", err)
	}
	return nil
}

// UpdatePeer rewrites a peer's mutable fields.
func (r *Repository) UpdatePeer(ctx context.Context, p *PeerRegistry) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE peer_registries
		 SET base_url = $2, tenant_id = $3, token_url = $4, client_id = $5,
		     client_secret = $6, sync_interval_secs = $7, enabled = $8, updated_at = $9
		 WHERE id = $1`,
		p.ID, p.BaseURL, p.TenantID, p.TokenURL, p.ClientID, p.ClientSecret,
		int(p.SyncInterval.Seconds()), p.Enabled, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update peer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("peer")
	}
	return nil
}

// DeletePeer removes a peer registration. Its mirrored agents stay until
// the operator removes them or a fresh peer with the same name re-syncs.
func (r *Repository) DeletePeer(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM peer_registries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("peer")
	}
	return nil
}

// GetPeer returns one peer.
func (r *Repository) GetPeer(ctx context.Context, id uuid.UUID) (*PeerRegistry, error) {
	p, err := scanPeer(r.db.QueryRow(ctx, peerColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("peer")
	}
	return p, err
}

// ListPeers returns all peers; enabledOnly restricts to those being synced.
func (r *Repository) ListPeers(ctx context.Context, enabledOnly bool) ([]*PeerRegistry, error) {
	query := peerColumns
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []*PeerRegistry
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// RecordSync updates the peer's last-sync summary.
func (r *Repository) RecordSync(ctx context.Context, peerID uuid.UUID, at time.Time, status string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE peer_registries SET last_sync_at = $2, last_sync_status = $3, updated_at = $2
		 WHERE id = $1`, peerID, at, status)
	return err
}

// StartRun inserts a sync run in running state.
func (r *Repository) StartRun(ctx context.Context, peerID uuid.UUID) (*SyncRun, error) {
	run := &SyncRun{
		ID:        uuid.New(),
		PeerID:    peerID,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO sync_runs (id, peer_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.PeerID, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert sync run: %w", err)
	}
	return run, nil
}

// FinishRun closes a run with its final status and counters.
func (r *Repository) FinishRun(ctx context.Context, run *SyncRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	_, err := r.db.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $2, finished_at = $3, added = $4, updated = $5, removed = $6,
		     failed = $7, error = $8
		 WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt, run.Added, run.Updated, run.Removed,
		run.Failed, run.Error)
	return err
}

// ListRuns returns a peer's most recent sync runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, peerID uuid.UUID, limit int) ([]*SyncRun, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, peer_id, status, started_at, finished_at, added, updated, removed, failed, error
		 FROM sync_runs WHERE peer_id = $1 ORDER BY started_at DESC LIMIT $2`,
		peerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var run SyncRun
		if err := rows.Scan(&run.ID, &run.PeerID, &run.Status, &run.StartedAt, &run.FinishedAt,
			&run.Added, &run.Updated, &run.Removed, &run.Failed, &run.Error); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

const peerColumns = `SELECT id, name, base_url, tenant_id, token_url, client_id, client_secret,
       sync_interval_secs, enabled, last_sync_at, last_sync_status, created_at, updated_at
FROM peer_registries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (*PeerRegistry, error) {
	var p PeerRegistry
	var intervalSecs int
	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.TenantID, &p.TokenURL, &p.ClientID,
		&p.ClientSecret, &intervalSecs, &p.Enabled, &p.LastSyncAt, &p.LastSyncStatus,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.SyncInterval = time.Duration(intervalSecs) * time.Second
	return &p, nil
}
