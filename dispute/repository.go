package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("dispute: not found")
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = "id, job_id, raised_by, reason, status::text, resolution, created_at, updated_at, resolved_at"

func (r *Repository) Create(ctx context.Context, jobID int64, raisedBy, reason string) (Record, error) {
	const query = `
		INSERT INTO disputes (job_id, raised_by, reason)
		VALUES ($1, $2, $3)
		RETURNING ` + columns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, jobID, raisedBy, reason))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, jobID int64, party string) ([]Record, error) {
	query := `SELECT ` + columns + ` FROM disputes d WHERE 1=1`
	args := []any{}
	if jobID > 0 {
		query += fmt.Sprintf(" AND d.job_id = $%d", len(args)+1)
		args = append(args, jobID)
	}
	if party != "" {
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM jobs j WHERE j.id = d.job_id AND (j.client = $%d OR j.freelancer = $%d)
		)`, len(args)+1, len(args)+1)
		args = append(args, party)
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Resolve annotates the record with an arbitration note. The owning job
// stays disputed on the ledger; fund recovery happens out of band.
func (r *Repository) Resolve(ctx context.Context, disputeID, resolution string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'resolved',
		    resolution = $2,
		    resolved_at = get_tx_timestamp(),
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING ` + columns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, disputeID, resolution))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	var status Status
	if err := r.pool.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1`, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	if status == StatusResolved {
		return Record{}, ErrBadStatus
	}
	return Record{}, ErrNotFound
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&rec.Resolution,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	)
}
