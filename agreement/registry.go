package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry mints and stores one work agreement per accepted proposal. Token
// ids are assigned sequentially from 1 and never reused; the jobs unique
// index is the reverse jobId -> tokenId map that enforces at most one
// agreement per job.
type Registry struct {
	pool   *pgxpool.Pool
	issuer string
}

// NewRegistry constructs a registry whose Mint entry point only honors
// callers presenting the issuer token. In this deployment that is exclusively
// the escrow coordinator.
func NewRegistry(pool *pgxpool.Pool, issuer string) *Registry {
	return &Registry{pool: pool, issuer: issuer}
}

type MintParams struct {
	Issuer     string
	JobID      int64
	Client     string
	Freelancer string
	Amount     int64
	TokenURI   string
}

// Mint creates the agreement record for a job, snapshotting the accepted
// terms. It is idempotent per job: a re-mint with the same snapshot returns
// the existing record and created=false; a re-mint with a different snapshot
// fails with ErrDuplicateMint.
func (r *Registry) Mint(ctx context.Context, params MintParams) (Agreement, bool, error) {
	if params.Issuer != r.issuer {
		return Agreement{}, false, ErrNotIssuer
	}
	if params.JobID <= 0 {
		return Agreement{}, false, fmt.Errorf("agreement: mint missing job id")
	}
	if params.Client == "" || params.Freelancer == "" {
		return Agreement{}, false, fmt.Errorf("agreement: mint missing parties")
	}
	if params.Amount <= 0 {
		return Agreement{}, false, fmt.Errorf("agreement: mint non-positive amount")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Idempotency: if the job already has an agreement, return it as long as
	// the snapshot matches. Checked before the insert to tolerate coordinator
	// retries.
	existing, err := getByJobTx(ctx, tx, params.JobID)
	switch {
	case err == nil:
		if !snapshotMatches(existing, params) {
			return Agreement{}, false, fmt.Errorf("agreement: job %d already bound to token %d: %w",
				params.JobID, existing.TokenID, ErrDuplicateMint)
		}
		return existing, false, nil
	case errors.Is(err, ErrNotFound):
		// continue with insert
	default:
		return Agreement{}, false, err
	}

	const insertSQL = `
INSERT INTO agreements (job_id, client, freelancer, amount, token_uri)
VALUES ($1, $2, $3, $4, $5)
RETURNING token_id, job_id, client, freelancer, amount, token_uri, created_at
`
	var minted Agreement
	err = tx.QueryRow(ctx, insertSQL,
		params.JobID, params.Client, params.Freelancer, params.Amount, params.TokenURI).
		Scan(&minted.TokenID, &minted.JobID, &minted.Client, &minted.Freelancer,
			&minted.Amount, &minted.TokenURI, &minted.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a mint race for the same job; the winner's row decides.
			return Agreement{}, false, fmt.Errorf("agreement: job %d minted concurrently: %w",
				params.JobID, ErrDuplicateMint)
		}
		return Agreement{}, false, fmt.Errorf("agreement: insert: %w", err)
	}
	minted.Status = StatusActive

	payload := map[string]any{
		"token_id":   minted.TokenID,
		"job_id":     minted.JobID,
		"client":     minted.Client,
		"freelancer": minted.Freelancer,
		"amount":     minted.Amount,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: marshal mint payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO timeline_events (job_id, type, actor, payload) VALUES ($1, 'AGREEMENT_MINTED', $2, $3::jsonb)`,
		minted.JobID, minted.Client, body); err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: insert timeline event: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (topic, payload) VALUES ('agreement.minted', $1::jsonb)`, body); err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: enqueue outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: commit mint: %w", err)
	}

	return minted, true, nil
}

func snapshotMatches(existing Agreement, params MintParams) bool {
	return existing.Client == params.Client &&
		existing.Freelancer == params.Freelancer &&
		existing.Amount == params.Amount
}

func getByJobTx(ctx context.Context, tx pgx.Tx, jobID int64) (Agreement, error) {
	const query = `
SELECT a.token_id, a.job_id, a.client, a.freelancer, a.amount, a.token_uri, a.created_at, j.status::text
FROM agreements a
JOIN jobs j ON j.id = a.job_id
WHERE a.job_id = $1
`
	return scanAgreement(tx.QueryRow(ctx, query, jobID))
}
