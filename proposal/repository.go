package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("proposal: not found")
	// ErrDuplicate signals the freelancer already proposed on this job.
	ErrDuplicate = errors.New("proposal: already submitted for this job")
)

type Repository interface {
	Create(ctx context.Context, p Proposal) (Proposal, error)
	List(ctx context.Context, filters Filters) ([]Proposal, int, error)
	Get(ctx context.Context, id string) (Proposal, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Proposal, error)
	MarkAccepted(ctx context.Context, jobID int64, freelancer string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = "id, job_id, freelancer, rate, cover_letter, status, created_at, updated_at"

func (r *PGRepository) Create(ctx context.Context, p Proposal) (Proposal, error) {
	const query = `
        INSERT INTO proposals (id, job_id, freelancer, rate, cover_letter, status)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
        RETURNING ` + columns

	row := r.pool.QueryRow(ctx, query, p.ID, p.JobID, p.Freelancer, p.Rate, p.CoverLetter, p.Status)
	created, err := scanProposal(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Proposal{}, ErrDuplicate
		}
		return Proposal{}, fmt.Errorf("proposal: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Proposal, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.JobID > 0 {
		where = append(where, fmt.Sprintf("job_id=$%d", len(args)+1))
		args = append(args, filters.JobID)
	}
	if filters.Freelancer != "" {
		where = append(where, fmt.Sprintf("freelancer=$%d", len(args)+1))
		args = append(args, filters.Freelancer)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM proposals%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		columns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("proposal: query list: %w", err)
	}
	defer rows.Close()

	list := []Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("proposal: scan: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("proposal: iterate: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM proposals" + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("proposal: count: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Proposal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, id string, status Status) (Proposal, error) {
	const query = `
		UPDATE proposals
		SET status = $2, updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + columns

	p, err := scanProposal(r.pool.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: update status: %w", err)
	}
	return p, nil
}

// MarkAccepted flags the accepted proposal and rejects its siblings. Called
// by the coordinator after the on-ledger assignment committed; best-effort.
func (r *PGRepository) MarkAccepted(ctx context.Context, jobID int64, freelancer string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
        UPDATE proposals SET status = 'accepted', updated_at = get_tx_timestamp()
        WHERE job_id = $1 AND freelancer = $2 AND status = 'pending'
    `, jobID, freelancer); err != nil {
		return fmt.Errorf("proposal: mark accepted: %w", err)
	}
	if _, err := tx.Exec(ctx, `
        UPDATE proposals SET status = 'rejected', updated_at = get_tx_timestamp()
        WHERE job_id = $1 AND freelancer <> $2 AND status = 'pending'
    `, jobID, freelancer); err != nil {
		return fmt.Errorf("proposal: reject siblings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("proposal: commit accept: %w", err)
	}
	return nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	return p, row.Scan(
		&p.ID,
		&p.JobID,
		&p.Freelancer,
		&p.Rate,
		&p.CoverLetter,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}
