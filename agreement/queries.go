package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const selectColumns = `
SELECT a.token_id, a.job_id, a.client, a.freelancer, a.amount, a.token_uri, a.created_at, j.status::text
FROM agreements a
JOIN jobs j ON j.id = a.job_id
`

// GetByToken looks an agreement up by its token id.
func (r *Registry) GetByToken(ctx context.Context, tokenID int64) (Agreement, error) {
	ag, err := scanAgreement(r.pool.QueryRow(ctx, selectColumns+`WHERE a.token_id = $1`, tokenID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get token %d: %w", tokenID, err)
	}
	return ag, nil
}

// GetByJob looks an agreement up through the jobId reverse index.
func (r *Registry) GetByJob(ctx context.Context, jobID int64) (Agreement, error) {
	ag, err := scanAgreement(r.pool.QueryRow(ctx, selectColumns+`WHERE a.job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get by job %d: %w", jobID, err)
	}
	return ag, nil
}

// ListByParty returns all agreements where the address is either side,
// newest token first.
func (r *Registry) ListByParty(ctx context.Context, address string) ([]Agreement, error) {
	rows, err := r.pool.Query(ctx,
		selectColumns+`WHERE a.client = $1 OR a.freelancer = $1 ORDER BY a.token_id DESC`, address)
	if err != nil {
		return nil, fmt.Errorf("agreement: list by party: %w", err)
	}
	defer rows.Close()

	out := []Agreement{}
	for rows.Next() {
		ag, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("agreement: scan: %w", err)
		}
		out = append(out, ag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate: %w", err)
	}
	return out, nil
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var (
		ag        Agreement
		jobStatus string
	)
	err := row.Scan(&ag.TokenID, &ag.JobID, &ag.Client, &ag.Freelancer,
		&ag.Amount, &ag.TokenURI, &ag.CreatedAt, &jobStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, err
	}
	ag.Status = deriveStatus(jobStatus)
	return ag, nil
}

// deriveStatus maps the owning job's state onto the agreement's terminal
// category. Agreements only exist for jobs that reached assigned, so refunded
// never appears here.
func deriveStatus(jobStatus string) Status {
	switch jobStatus {
	case "completed":
		return StatusCompleted
	case "disputed":
		return StatusDisputed
	default:
		return StatusActive
	}
}
