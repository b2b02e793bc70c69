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

// AgentRepository persists agent records, versions, and publishers against
// PostgreSQL. All multi-statement writes run in a single transaction.
type AgentRepository struct {
	db *pgxpool.Pool
}

// NewAgentRepository creates an AgentRepository.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// UpsertVersion inserts a new agent version under (tenant, publisher, name),
// creating the record head on first publish. Publishing bytes whose content
// hash already exists for the agent is an idempotent no-op: the existing
// version is returned with Created=false and updated_at is not bumped.
//
// The record row is locked FOR UPDATE, so concurrent publishes to the same
// key are linearized. The transaction runs SERIALIZABLE.
func (r *AgentRepository) UpsertVersion(
	ctx context.Context,
	tenantID string,
	pub *model.Publisher,
	name string,
	public bool,
	version string,
	card []byte,
	contentHash string,
	source model.Source,
	sourceURL string,
	federatedFrom *uuid.UUID,
) (*model.UpsertOutcome, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	res, err := r.upsertVersionTx(ctx, tx, tenantID, pub, name, public, version, card, contentHash, source, sourceURL, federatedFrom)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit publish tx: %w", err)
	}
	return res, nil
}

// UpsertVersionStaged is UpsertVersion split around a pre-commit hook.
// stage runs after all writes but before commit; returning an error rolls
// the whole publish back. The publish service uses this to reserve an index
// queue slot so that a saturated indexer aborts the publish atomically.
func (r *AgentRepository) UpsertVersionStaged(
	ctx context.Context,
	tenantID string,
	pub *model.Publisher,
	name string,
	public bool,
	version string,
	card []byte,
	contentHash string,
	source model.Source,
	sourceURL string,
	federatedFrom *uuid.UUID,
	stage func(*model.UpsertOutcome) error,
) (*model.UpsertOutcome, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	res, err := r.upsertVersionTx(ctx, tx, tenantID, pub, name, public, version, card, contentHash, source, sourceURL, federatedFrom)
	if err != nil {
		return nil, err
	}
	if stage != nil {
		if err := stage(res); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit publish tx: %w", err)
	}
	return res, nil
}

func (r *AgentRepository) upsertVersionTx(
	ctx context.Context,
	tx pgx.Tx,
	tenantID string,
	pub *model.Publisher,
	name string,
	public bool,
	version string,
	card []byte,
	contentHash string,
	source model.Source,
	sourceURL string,
	federatedFrom *uuid.UUID,
) (*model.UpsertOutcome, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES ($1, $1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		tenantID, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("ensure tenant: %w", err)
	}

	// Lock the head row if it exists.
	record, err := scanRecord(tx.QueryRow(ctx,
		`SELECT id, tenant_id, publisher_id, publisher_name, name, latest_version_id,
		        public, federated_from, created_at, updated_at, deleted_at
		 FROM agents
		 WHERE tenant_id = $1 AND publisher_id = $2 AND name = $3
		 FOR UPDATE`,
		tenantID, pub.ID, name,
	))
	now := time.Now().UTC()

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		record = &model.AgentRecord{
			ID:            uuid.New(),
			TenantID:      tenantID,
			PublisherID:   pub.ID,
			PublisherName: pub.DisplayName,
			Name:          name,
			Public:        public,
			FederatedFrom: federatedFrom,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO agents (id, tenant_id, publisher_id, publisher_name, name,
			                     latest_version_id, public, federated_from, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, $9)`,
			record.ID, record.TenantID, record.PublisherID, record.PublisherName,
			record.Name, record.Public, record.FederatedFrom, record.CreatedAt, record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert agent record: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("lock agent record: %w", err)
	default:
		// A federated mirror is only replaced by federation sync.
		if record.Federated() && source != model.SourceFederated {
			return nil, model.E(model.CodeForbidden, "federated agents cannot be modified by local publish")
		}
	}

	// Content-hash dedupe: same bytes → return the existing version untouched.
	existing, err := scanVersion(tx.QueryRow(ctx,
		`SELECT id, agent_id, version, card, content_hash, source, source_url, created_at
		 FROM agent_versions WHERE agent_id = $1 AND content_hash = $2`,
		record.ID, contentHash,
	))
	if err == nil {
		return &model.UpsertOutcome{Record: record, Version: existing, Created: false}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check content hash: %w", err)
	}

	v := &model.AgentVersion{
		ID:          uuid.New(),
		AgentID:     record.ID,
		Version:     version,
		Card:        card,
		ContentHash: contentHash,
		Source:      source,
		SourceURL:   sourceURL,
		CreatedAt:   now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO agent_versions (id, agent_id, version, card, content_hash, source, source_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.AgentID, v.Version, v.Card, v.ContentHash, v.Source, v.SourceURL, v.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert agent version: %w", err)
	}

	record.LatestVersionID = v.ID
	record.UpdatedAt = now
	record.Public = public
	record.DeletedAt = nil
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET latest_version_id = $2, public = $3, updated_at = $4, deleted_at = NULL
		 WHERE id = $1`,
		record.ID, v.ID, public, now,
	); err != nil {
		return nil, fmt.Errorf("bump agent head: %w", err)
	}

	return &model.UpsertOutcome{Record: record, Version: v, Created: true}, nil
}

// GetByID returns a live (not soft-deleted) agent record.
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AgentRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT id, tenant_id, publisher_id, publisher_name, name, latest_version_id,
		        public, federated_from, created_at, updated_at, deleted_at
		 FROM agents WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("agent")
	}
	return rec, err
}

// GetByName looks up the head record by its unique key.
func (r *AgentRepository) GetByName(ctx context.Context, tenantID string, publisherID uuid.UUID, name string) (*model.AgentRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT id, tenant_id, publisher_id, publisher_name, name, latest_version_id,
		        public, federated_from, created_at, updated_at, deleted_at
		 FROM agents
		 WHERE tenant_id = $1 AND publisher_id = $2 AND name = $3 AND deleted_at IS NULL`,
		tenantID, publisherID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("agent")
	}
	return rec, err
}

// GetLatest returns the version an agent's head points at.
func (r *AgentRepository) GetLatest(ctx context.Context, agentID uuid.UUID) (*model.AgentVersion, error) {
	v, err := scanVersion(r.db.QueryRow(ctx,
		`SELECT v.id, v.agent_id, v.version, v.card, v.content_hash, v.source, v.source_url, v.created_at
		 FROM agent_versions v
		 JOIN agents a ON a.latest_version_id = v.id
		 WHERE a.id = $1 AND a.deleted_at IS NULL`, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("agent")
	}
	return v, err
}

// GetVersion returns a version by its id.
func (r *AgentRepository) GetVersion(ctx context.Context, versionID uuid.UUID) (*model.AgentVersion, error) {
	v, err := scanVersion(r.db.QueryRow(ctx,
		`SELECT id, agent_id, version, card, content_hash, source, source_url, created_at
		 FROM agent_versions WHERE id = $1`, versionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("agent")
	}
	return v, err
}

// ListPublic pages public records across all tenants, newest-updated first,
// tie-broken by id, using keyset pagination on (updated_at, id).
func (r *AgentRepository) ListPublic(ctx context.Context, cursor *model.Cursor, limit int) ([]*model.AgentRecord, error) {
	return r.list(ctx,
		`SELECT id, tenant_id, publisher_id, publisher_name, name, latest_version_id,
		        public, federated_from, created_at, updated_at, deleted_at
		 FROM agents
		 WHERE public = TRUE AND deleted_at IS NULL
		   AND ($1::timestamptz IS NULL OR (updated_at, id) < ($1, $2))
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $3`,
		cursorArgs(cursor, limit)...)
}

// PublicIndex pages the well-known index rows: every live public agent
// with its latest version and content hash, newest-updated first.
func (r *AgentRepository) PublicIndex(ctx context.Context, cursor *model.Cursor, limit int) ([]model.IndexRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.id, a.name, a.publisher_name, v.version, v.content_hash, a.updated_at
		 FROM agents a
		 JOIN agent_versions v ON v.id = a.latest_version_id
		 WHERE a.public = TRUE AND a.deleted_at IS NULL
		   AND ($1::timestamptz IS NULL OR (a.updated_at, a.id) < ($1, $2))
		 ORDER BY a.updated_at DESC, a.id DESC
		 LIMIT $3`,
		cursorArgs(cursor, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IndexRow
	for rows.Next() {
		var row model.IndexRow
		if err := rows.Scan(&row.ID, &row.Name, &row.PublisherName, &row.Version, &row.ContentHash, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListForTenant pages records inside one tenant: public rows plus, when
// filter.EntitledBy is set, rows with an active entitlement for any of the
// given subjects.
func (r *AgentRepository) ListForTenant(ctx context.Context, tenantID string, cursor *model.Cursor, limit int, filter model.ListFilter) ([]*model.AgentRecord, error) {
	args := []any{tenantID}
	where := `a.tenant_id = $1 AND a.deleted_at IS NULL`
	n := 2

	if filter.Public != nil {
		where += fmt.Sprintf(" AND a.public = $%d", n)
		args = append(args, *filter.Public)
		n++
	}
	if filter.PublisherID != nil {
		where += fmt.Sprintf(" AND a.publisher_id = $%d", n)
		args = append(args, *filter.PublisherID)
		n++
	}
	if len(filter.EntitledBy) > 0 {
		where += fmt.Sprintf(` AND (a.public = TRUE OR EXISTS (
			SELECT 1 FROM entitlements e
			WHERE e.agent_id = a.id AND e.tenant_id = a.tenant_id
			  AND e.revoked_at IS NULL AND e.subject = ANY($%d)))`, n)
		args = append(args, filter.EntitledBy)
		n++
	}

	var cur, curID any
	if cursor != nil {
		cur, curID = cursor.UpdatedAt, cursor.ID
	}
	where += fmt.Sprintf(` AND ($%d::timestamptz IS NULL OR (a.updated_at, a.id) < ($%d, $%d))`, n, n, n+1)
	args = append(args, cur, curID, limit)

	query := `SELECT a.id, a.tenant_id, a.publisher_id, a.publisher_name, a.name,
	                 a.latest_version_id, a.public, a.federated_from, a.created_at, a.updated_at, a.deleted_at
	          FROM agents a WHERE ` + where +
		fmt.Sprintf(` ORDER BY a.updated_at DESC, a.id DESC LIMIT $%d`, n+2)

	return r.list(ctx, query, args...)
}

// ListFederated returns the live federated records for one peer together
// with their latest content hashes, for sync diffing.
func (r *AgentRepository) ListFederated(ctx context.Context, peerID uuid.UUID) (map[string]model.FederatedEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.id, a.name, v.content_hash
		 FROM agents a
		 JOIN agent_versions v ON v.id = a.latest_version_id
		 WHERE a.federated_from = $1 AND a.deleted_at IS NULL`, peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.FederatedEntry)
	for rows.Next() {
		var e model.FederatedEntry
		if err := rows.Scan(&e.RecordID, &e.Name, &e.ContentHash); err != nil {
			return nil, err
		}
		out[e.Name] = e
	}
	return out, rows.Err()
}

// SoftDelete hides a record (federation retraction). Versions are retained.
func (r *AgentRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE agents SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("agent")
	}
	return nil
}

// CountByPublisher counts live records for quota enforcement.
func (r *AgentRepository) CountByPublisher(ctx context.Context, publisherID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM agents WHERE publisher_id = $1 AND deleted_at IS NULL`,
		publisherID).Scan(&count)
	return count, err
}

// CountAgents returns (total live, public live) across all tenants.
func (r *AgentRepository) CountAgents(ctx context.Context) (total, public int, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE public) FROM agents WHERE deleted_at IS NULL`,
	).Scan(&total, &public)
	return total, public, err
}

// UpsertPublisher finds or creates the publisher identity for a subject
// within a tenant, refreshing the display name.
func (r *AgentRepository) UpsertPublisher(ctx context.Context, tenantID, subject, displayName string) (*model.Publisher, error) {
	p := &model.Publisher{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Subject:     subject,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO publishers (id, tenant_id, subject, display_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, subject)
		 DO UPDATE SET display_name = EXCLUDED.display_name
		 RETURNING id, created_at`,
		p.ID, p.TenantID, p.Subject, p.DisplayName, p.CreatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert publisher: %w", err)
	}
	return p, nil
}

// AllLiveViews streams every live record with its latest version, used by
// the search index backfill at startup.
func (r *AgentRepository) AllLiveViews(ctx context.Context, fn func(rec *model.AgentRecord, v *model.AgentVersion) error) error {
	rows, err := r.db.Query(ctx,
		`SELECT a.id, a.tenant_id, a.publisher_id, a.publisher_name, a.name,
		        a.latest_version_id, a.public, a.federated_from, a.created_at, a.updated_at, a.deleted_at,
		        v.id, v.agent_id, v.version, v.card, v.content_hash, v.source, v.source_url, v.created_at
		 FROM agents a
		 JOIN agent_versions v ON v.id = a.latest_version_id
		 WHERE a.deleted_at IS NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.AgentRecord
		var v model.AgentVersion
		var latest *uuid.UUID
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.PublisherID, &rec.PublisherName, &rec.Name,
			&latest, &rec.Public, &rec.FederatedFrom, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt,
			&v.ID, &v.AgentID, &v.Version, &v.Card, &v.ContentHash, &v.Source, &v.SourceURL, &v.CreatedAt,
		); err != nil {
			return err
		}
		if latest != nil {
			rec.LatestVersionID = *latest
		}
		if err := fn(&rec, &v); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *AgentRepository) list(ctx context.Context, query string, args ...any) ([]*model.AgentRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.AgentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func cursorArgs(cursor *model.Cursor, limit int) []any {
	if cursor == nil {
		return []any{nil, nil, limit}
	}
	return []any{cursor.UpdatedAt, cursor.ID, limit}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.AgentRecord, error) {
	var rec model.AgentRecord
	var latest *uuid.UUID
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.PublisherID, &rec.PublisherName, &rec.Name,
		&latest, &rec.Public, &rec.FederatedFrom, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		rec.LatestVersionID = *latest
	}
	return &rec, nil
}

func scanVersion(row rowScanner) (*model.AgentVersion, error) {
	var v model.AgentVersion
	err := row.Scan(&v.ID, &v.AgentID, &v.Version, &v.Card, &v.ContentHash, &v.Source, &v.SourceURL, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
