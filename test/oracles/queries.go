// Package oracles holds SQL invariant checks run against the live database
// while the actors hammer it. Each query returns zero rows when the
// invariant holds.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			// Escrowed money is conserved: while a job holds funds its
			// escrow entries net to -amount against the wallets; once it
			// reaches completed or refunded they net to zero.
			Name: "O1_conservation_of_funds",
			SQL: `SELECT j.id, j.status, j.amount, COALESCE(SUM(l.delta),0) AS net
                  FROM jobs j
                  LEFT JOIN ledger_entries l ON l.job_id = j.id
                  GROUP BY j.id, j.status, j.amount
                  HAVING (j.status IN ('completed','refunded') AND COALESCE(SUM(l.delta),0) <> 0)
                      OR (j.status NOT IN ('completed','refunded') AND COALESCE(SUM(l.delta),0) <> -j.amount)`,
		},
		{
			Name: "O2_single_terminal_payout",
			SQL: `SELECT job_id FROM ledger_entries
                  WHERE kind IN ('escrow_release','escrow_refund')
                  GROUP BY job_id
                  HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_no_negative_balance",
			SQL:  `SELECT address, balance FROM wallets WHERE balance < 0`,
		},
		{
			// Agreements exist only for jobs that were assigned, snapshot the
			// accepted terms, and there is at most one per job (the unique
			// index enforces the count; this checks the content).
			Name: "O4_agreement_snapshot",
			SQL: `SELECT a.token_id, a.job_id FROM agreements a
                  JOIN jobs j ON j.id = a.job_id
                  WHERE j.freelancer IS NULL
                     OR a.freelancer <> j.freelancer
                     OR a.client <> j.client
                     OR a.amount <> j.amount
                     OR j.status = 'refunded'`,
		},
		{
			Name: "O5_no_agreement_for_unassigned",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.status IN ('open','refunded')
                    AND EXISTS (SELECT 1 FROM agreements a WHERE a.job_id = j.id)`,
		},
		{
			// A job past open always knows its freelancer, except refunded
			// which never had one.
			Name: "O6_freelancer_set_after_assign",
			SQL: `SELECT id, status FROM jobs
                  WHERE status NOT IN ('open','refunded') AND freelancer IS NULL`,
		},
		{
			Name: "O7_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT job_id, seq,
                             LAG(seq) OVER (PARTITION BY job_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			// Token ids are assigned by the sequence and never reused; a gap
			// is fine, a duplicate binding is not.
			Name: "O9_one_job_per_token",
			SQL: `SELECT job_id FROM agreements
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
