package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository owns the wallets and ledger_entries tables. Debits and credits
// take a pgx.Tx so escrow transitions keep fund movement inside the job's own
// transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Deposit tops up (creating if needed) a wallet and records a deposit entry.
func (r *Repository) Deposit(ctx context.Context, address string, amount int64) (Account, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Account{}, err
	}
	if amount <= 0 {
		return Account{}, fmt.Errorf("wallet: deposit amount must be positive")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertSQL = `
INSERT INTO wallets (address, balance) VALUES ($1, $2)
ON CONFLICT (address) DO UPDATE
SET balance = wallets.balance + EXCLUDED.balance,
    updated_at = get_tx_timestamp()
RETURNING address, balance, created_at, updated_at
`
	var acc Account
	if err := tx.QueryRow(ctx, upsertSQL, addr, amount).
		Scan(&acc.Address, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return Account{}, fmt.Errorf("wallet: deposit: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (account, delta, kind) VALUES ($1, $2, 'deposit')`,
		addr, amount); err != nil {
		return Account{}, fmt.Errorf("wallet: deposit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("wallet: commit deposit: %w", err)
	}
	return acc, nil
}

// Balance returns the current committed balance for an address.
func (r *Repository) Balance(ctx context.Context, address string) (Account, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Account{}, err
	}

	var acc Account
	err = r.pool.QueryRow(ctx,
		`SELECT address, balance, created_at, updated_at FROM wallets WHERE address = $1`, addr).
		Scan(&acc.Address, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("wallet: balance: %w", err)
	}
	return acc, nil
}

// EnsureTx creates the wallet row if it does not exist yet. Used before
// crediting parties that have never deposited.
func (r *Repository) EnsureTx(ctx context.Context, tx pgx.Tx, address string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallets (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, address); err != nil {
		return fmt.Errorf("wallet: ensure account: %w", err)
	}
	return nil
}

// DebitTx locks the wallet row, verifies coverage and subtracts amount,
// recording a ledger entry tied to jobID.
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, address string, jobID int64, amount int64, kind EntryKind) error {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE address = $1 FOR UPDATE`, address).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("wallet: lock account: %w", err)
	}
	if balance < amount {
		return fmt.Errorf("wallet: debit %d from %s (balance %d): %w", amount, address, balance, ErrInsufficientFunds)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = get_tx_timestamp() WHERE address = $2`,
		amount, address); err != nil {
		return fmt.Errorf("wallet: debit: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (job_id, account, delta, kind) VALUES ($1, $2, $3, $4)`,
		jobID, address, -amount, kind); err != nil {
		return fmt.Errorf("wallet: debit entry: %w", err)
	}
	return nil
}

// CreditTx adds amount to the wallet, creating it if necessary, and records a
// ledger entry tied to jobID.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, address string, jobID int64, amount int64, kind EntryKind) error {
	if err := r.EnsureTx(ctx, tx, address); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = get_tx_timestamp() WHERE address = $2`,
		amount, address); err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (job_id, account, delta, kind) VALUES ($1, $2, $3, $4)`,
		jobID, address, amount, kind); err != nil {
		return fmt.Errorf("wallet: credit entry: %w", err)
	}
	return nil
}

// EntriesByJob lists the movement history of a single job.
func (r *Repository) EntriesByJob(ctx context.Context, jobID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, job_id, account, delta, kind, created_at
         FROM ledger_entries WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("wallet: entries by job: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 4)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Account, &e.Delta, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("wallet: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate entries: %w", err)
	}
	return out, nil
}
