package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepairEntry is a search-index update that exhausted its in-memory retries
// and was parked for the reconciler.
type RepairEntry struct {
	AgentID  uuid.UUID `db:"agent_id"`
	Reason   string    `db:"reason"`
	ParkedAt time.Time `db:"parked_at"`
	Attempts int       `db:"attempts"`
}

// RepairLogRepository is the durable backlog of failed index updates.
type RepairLogRepository struct {
	db *pgxpool.Pool
}

// NewRepairLogRepository creates a RepairLogRepository.
func NewRepairLogRepository(db *pgxpool.Pool) *RepairLogRepository {
	return &RepairLogRepository{db: db}
}

// Park records a failed index update, replacing any earlier entry for the
// same agent. Only the latest state of an agent needs repair.
func (r *RepairLogRepository) Park(ctx context.Context, agentID uuid.UUID, reason string, attempts int) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO index_repair_log (agent_id, reason, parked_at, attempts)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id)
		 DO UPDATE SET reason = EXCLUDED.reason, parked_at = EXCLUDED.parked_at,
		               attempts = EXCLUDED.attempts`,
		agentID, reason, time.Now().UTC(), attempts)
	return err
}

// List returns up to limit parked entries, oldest first.
func (r *RepairLogRepository) List(ctx context.Context, limit int) ([]RepairEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT agent_id, reason, parked_at, attempts
		 FROM index_repair_log ORDER BY parked_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RepairEntry
	for rows.Next() {
		var e RepairEntry
		if err := rows.Scan(&e.AgentID, &e.Reason, &e.ParkedAt, &e.Attempts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Pending returns the agent ids of up to limit parked entries, oldest first.
func (r *RepairLogRepository) Pending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT agent_id FROM index_repair_log ORDER BY parked_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Resolve removes an entry after a successful repair.
func (r *RepairLogRepository) Resolve(ctx context.Context, agentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM index_repair_log WHERE agent_id = $1`, agentID)
	return err
}

// Count returns the backlog size, exported as a gauge.
func (r *RepairLogRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM index_repair_log`).Scan(&n)
	return n, err
}
