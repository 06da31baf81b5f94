package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quaiwork/wallet"
)

// Service is the single authority for job lifecycle transitions and fund
// custody. Every mutating call runs in one transaction that locks the job row
// (FOR UPDATE), so concurrent callers against the same job are linearized and
// no intermediate state is ever observable.
type Service struct {
	pool    *pgxpool.Pool
	wallets *wallet.Repository
	now     func() time.Time
}

func NewService(pool *pgxpool.Pool, wallets *wallet.Repository) *Service {
	return &Service{
		pool:    pool,
		wallets: wallets,
		now:     time.Now,
	}
}

// WithClock overrides the time source, primarily for deadline tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateJobParams struct {
	Client      string
	Amount      int64
	Deadline    time.Time
	Title       string
	Description string
	Category    string
}

// CreateJob atomically debits the client wallet and creates the job open.
// Creation and funding are a single action; there is no fundable draft state.
func (s *Service) CreateJob(ctx context.Context, params CreateJobParams) (Job, error) {
	client, err := wallet.NormalizeAddress(params.Client)
	if err != nil {
		return Job{}, err
	}
	if params.Amount <= 0 {
		return Job{}, precondition(0, "create", RuleNonPositiveAmount, fmt.Sprintf("amount %d", params.Amount))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The jobs table references wallets, so the row must exist even for a
	// client who has never deposited. The debit below still fails on an
	// empty balance.
	if err := s.wallets.EnsureTx(ctx, tx, client); err != nil {
		return Job{}, err
	}

	const insertSQL = `
INSERT INTO jobs (client, amount, deadline, title, description, category)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, client, freelancer, amount, deadline, status, title, description, category, created_at, updated_at
`
	job, err := scanJob(tx.QueryRow(ctx, insertSQL,
		client, params.Amount, params.Deadline, params.Title, params.Description, params.Category))
	if err != nil {
		return Job{}, fmt.Errorf("escrow: insert job: %w", err)
	}

	if err := s.wallets.DebitTx(ctx, tx, client, job.ID, job.Amount, wallet.KindEscrowLock); err != nil {
		return Job{}, fmt.Errorf("escrow: lock funds for job %d: %w", job.ID, err)
	}

	if err := insertTimelineEvent(ctx, tx, job.ID, EventJobCreated, client, map[string]any{
		"client":   client,
		"amount":   job.Amount,
		"deadline": job.Deadline.UTC(),
	}); err != nil {
		return Job{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicJobCreated, map[string]any{
		"job_id": job.ID,
		"client": client,
		"amount": job.Amount,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit create: %w", err)
	}

	transitionsTotal.WithLabelValues("create").Inc()
	return job, nil
}

// Assign binds a freelancer to an open job. The freelancer field is set here
// and never again; there is no fund movement.
func (s *Service) Assign(ctx context.Context, jobID int64, caller, freelancer string) (Job, error) {
	callerAddr, err := wallet.NormalizeAddress(caller)
	if err != nil {
		return Job{}, err
	}
	freelancerAddr, err := wallet.NormalizeAddress(freelancer)
	if err != nil {
		return Job{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := getJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if gerr := assignGuard(job, callerAddr, freelancerAddr); gerr != nil {
		return Job{}, gerr
	}

	// The freelancer may have no wallet yet; the row must exist before the
	// jobs foreign key points at it.
	if err := s.wallets.EnsureTx(ctx, tx, freelancerAddr); err != nil {
		return Job{}, err
	}

	const updateSQL = `
UPDATE jobs
SET freelancer = $2, status = 'assigned', updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING id, client, freelancer, amount, deadline, status, title, description, category, created_at, updated_at
`
	job, err = scanJob(tx.QueryRow(ctx, updateSQL, jobID, freelancerAddr))
	if err != nil {
		return Job{}, fmt.Errorf("escrow: assign job %d: %w", jobID, err)
	}

	if err := insertTimelineEvent(ctx, tx, jobID, EventJobAssigned, callerAddr, map[string]any{
		"freelancer": freelancerAddr,
	}); err != nil {
		return Job{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicJobAssigned, map[string]any{
		"job_id":     jobID,
		"freelancer": freelancerAddr,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit assign: %w", err)
	}

	transitionsTotal.WithLabelValues("assign").Inc()
	return job, nil
}

// Reclaim refunds the full amount to the client of a job still open past its
// deadline. Caller-triggered only; nothing fires automatically at deadline.
func (s *Service) Reclaim(ctx context.Context, jobID int64, caller string) (Job, error) {
	callerAddr, err := wallet.NormalizeAddress(caller)
	if err != nil {
		return Job{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := getJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if gerr := reclaimGuard(job, callerAddr, s.now()); gerr != nil {
		return Job{}, gerr
	}

	job, err = updateStatus(ctx, tx, jobID, StatusRefunded)
	if err != nil {
		return Job{}, err
	}
	if err := s.wallets.CreditTx(ctx, tx, job.Client, jobID, job.Amount, wallet.KindEscrowRefund); err != nil {
		return Job{}, fmt.Errorf("escrow: refund job %d: %w", jobID, err)
	}

	if err := insertTimelineEvent(ctx, tx, jobID, EventJobRefunded, callerAddr, map[string]any{
		"amount": job.Amount,
	}); err != nil {
		return Job{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicJobRefunded, map[string]any{
		"job_id": jobID,
		"client": job.Client,
		"amount": job.Amount,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit reclaim: %w", err)
	}

	transitionsTotal.WithLabelValues("reclaim").Inc()
	return job, nil
}

// MarkDelivered flags the work as delivered. Advisory only: it never gates
// release.
func (s *Service) MarkDelivered(ctx context.Context, jobID int64, caller string) (Job, error) {
	callerAddr, err := wallet.NormalizeAddress(caller)
	if err != nil {
		return Job{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := getJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if gerr := deliverGuard(job, callerAddr); gerr != nil {
		return Job{}, gerr
	}

	job, err = updateStatus(ctx, tx, jobID, StatusDelivered)
	if err != nil {
		return Job{}, err
	}

	if err := insertTimelineEvent(ctx, tx, jobID, EventJobDelivered, callerAddr, nil); err != nil {
		return Job{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicJobDelivered, map[string]any{"job_id": jobID}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit deliver: %w", err)
	}

	transitionsTotal.WithLabelValues("deliver").Inc()
	return job, nil
}

// Release pays the entire escrowed amount to the freelancer. All-or-nothing;
// there is no milestone or partial release.
func (s *Service) Release(ctx context.Context, jobID int64, caller string) (Job, error) {
	callerAddr, err := wallet.NormalizeAddress(caller)
	if err != nil {
		return Job{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := getJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if gerr := releaseGuard(job, callerAddr); gerr != nil {
		return Job{}, gerr
	}

	job, err = updateStatus(ctx, tx, jobID, StatusCompleted)
	if err != nil {
		return Job{}, err
	}
	if err := s.wallets.CreditTx(ctx, tx, *job.Freelancer, jobID, job.Amount, wallet.KindEscrowRelease); err != nil {
		return Job{}, fmt.Errorf("escrow: pay out job %d: %w", jobID, err)
	}

	if err := insertTimelineEvent(ctx, tx, jobID, EventPaymentReleased, callerAddr, map[string]any{
		"freelancer": *job.Freelancer,
		"amount":     job.Amount,
	}); err != nil {
		return Job{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicPaymentReleased, map[string]any{
		"job_id":     jobID,
		"freelancer": *job.Freelancer,
		"amount":     job.Amount,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit release: %w", err)
	}

	transitionsTotal.WithLabelValues("release").Inc()
	return job, nil
}

// Dispute freezes the job pending out-of-band arbitration. No fund movement,
// and no further transitions are possible afterwards.
func (s *Service) Dispute(ctx context.Context, jobID int64, caller string) (Job, error) {
	callerAddr, err := wallet.NormalizeAddress(caller)
	if err != nil {
		return Job{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := getJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if gerr := disputeGuard(job, callerAddr); gerr != nil {
		return Job{}, gerr
	}

	job, err = updateStatus(ctx, tx, jobID, StatusDisputed)
	if err != nil {
		return Job{}, err
	}

	if err := insertTimelineEvent(ctx, tx, jobID, EventJobDisputed, callerAddr, nil); err != nil {
		return Job{}, err
	}
	if err := enqueueOutbox(ctx, tx, TopicJobDisputed, map[string]any{
		"job_id":    jobID,
		"raised_by": callerAddr,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("escrow: commit dispute: %w", err)
	}

	transitionsTotal.WithLabelValues("dispute").Inc()
	return job, nil
}

func updateStatus(ctx context.Context, tx pgx.Tx, jobID int64, status Status) (Job, error) {
	const updateSQL = `
UPDATE jobs
SET status = $2, updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING id, client, freelancer, amount, deadline, status, title, description, category, created_at, updated_at
`
	job, err := scanJob(tx.QueryRow(ctx, updateSQL, jobID, status))
	if err != nil {
		return Job{}, fmt.Errorf("escrow: update job %d status: %w", jobID, err)
	}
	return job, nil
}
