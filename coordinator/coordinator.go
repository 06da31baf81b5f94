// Package coordinator sequences the operations that touch both the escrow
// ledger and the agreement registry. Accepting a proposal is the only
// cross-entity write; everything else passes through to the ledger.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"quaiwork/agreement"
	"quaiwork/escrow"
)

// Ledger is the slice of the escrow service the coordinator drives.
type Ledger interface {
	Assign(ctx context.Context, jobID int64, caller, freelancer string) (escrow.Job, error)
	Release(ctx context.Context, jobID int64, caller string) (escrow.Job, error)
	Reclaim(ctx context.Context, jobID int64, caller string) (escrow.Job, error)
	MarkDelivered(ctx context.Context, jobID int64, caller string) (escrow.Job, error)
	Dispute(ctx context.Context, jobID int64, caller string) (escrow.Job, error)
	GetJob(ctx context.Context, jobID int64) (escrow.Job, error)
}

// Minter is the registry's privileged entry point.
type Minter interface {
	Mint(ctx context.Context, params agreement.MintParams) (agreement.Agreement, bool, error)
}

// ProposalStore marks off-chain proposal records after acceptance.
// Best-effort: it has no authority over money and its failures never undo a
// committed assignment.
type ProposalStore interface {
	MarkAccepted(ctx context.Context, jobID int64, freelancer string) error
}

// DisputeRecorder stores the who/why beside the frozen escrow state.
type DisputeRecorder interface {
	Create(ctx context.Context, jobID int64, raisedBy, reason string) error
}

// Rater is the fire-and-forget review side-channel invoked after release.
type Rater interface {
	Submit(ctx context.Context, jobID int64, freelancer, client string, rating int, comment string) error
}

type Coordinator struct {
	ledger    Ledger
	registry  Minter
	issuer    string
	proposals ProposalStore
	disputes  DisputeRecorder
	ratings   Rater
	logger    *log.Logger
}

// New wires the coordinator. proposals, disputes and ratings may be nil; the
// corresponding side effects are skipped.
func New(ledger Ledger, registry Minter, issuer string, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		ledger:   ledger,
		registry: registry,
		issuer:   issuer,
		logger:   logger,
	}
}

func (c *Coordinator) WithProposals(store ProposalStore) *Coordinator {
	c.proposals = store
	return c
}

func (c *Coordinator) WithDisputes(recorder DisputeRecorder) *Coordinator {
	c.disputes = recorder
	return c
}

func (c *Coordinator) WithRatings(rater Rater) *Coordinator {
	c.ratings = rater
	return c
}

// PartialAcceptanceFailure reports a job that was assigned but whose
// agreement could not be minted. Recoverable: Remediate re-runs the
// naturally-idempotent mint alone.
type PartialAcceptanceFailure struct {
	JobID int64
	Err   error
}

func (e *PartialAcceptanceFailure) Error() string {
	return fmt.Sprintf("coordinator: job %d assigned but agreement not minted: %v", e.JobID, e.Err)
}

func (e *PartialAcceptanceFailure) Unwrap() error { return e.Err }

type AcceptParams struct {
	JobID      int64
	Caller     string
	Freelancer string
	TokenURI   string
}

type AcceptResult struct {
	Job       escrow.Job
	Agreement agreement.Agreement
}

// AcceptProposal assigns the freelancer and mints the work agreement from the
// post-assign snapshot. The assign commits first; if the mint then fails it
// is retried once in-line (it is idempotent per job) before surfacing
// PartialAcceptanceFailure. The window between the two commits is the only
// place cross-entity inconsistency can be observed.
func (c *Coordinator) AcceptProposal(ctx context.Context, params AcceptParams) (AcceptResult, error) {
	job, err := c.ledger.Assign(ctx, params.JobID, params.Caller, params.Freelancer)
	if err != nil {
		return AcceptResult{}, err
	}

	ag, err := c.mint(ctx, job, params.TokenURI)
	if err != nil {
		// One immediate retry; mint is a no-op if the first attempt actually
		// committed.
		ag, err = c.mint(ctx, job, params.TokenURI)
	}
	if err != nil {
		return AcceptResult{}, &PartialAcceptanceFailure{JobID: job.ID, Err: err}
	}

	if c.proposals != nil {
		if perr := c.proposals.MarkAccepted(ctx, job.ID, *job.Freelancer); perr != nil {
			c.logger.Printf("coordinator: mark proposal accepted for job %d: %v", job.ID, perr)
		}
	}

	return AcceptResult{Job: job, Agreement: ag}, nil
}

// Remediate re-runs the mint for an assigned-but-unminted job.
func (c *Coordinator) Remediate(ctx context.Context, jobID int64, tokenURI string) (agreement.Agreement, error) {
	job, err := c.ledger.GetJob(ctx, jobID)
	if err != nil {
		return agreement.Agreement{}, err
	}
	if job.Freelancer == nil {
		return agreement.Agreement{}, fmt.Errorf("coordinator: remediate job %d: not assigned", jobID)
	}
	return c.mint(ctx, job, tokenURI)
}

func (c *Coordinator) mint(ctx context.Context, job escrow.Job, tokenURI string) (agreement.Agreement, error) {
	ag, _, err := c.registry.Mint(ctx, agreement.MintParams{
		Issuer:     c.issuer,
		JobID:      job.ID,
		Client:     job.Client,
		Freelancer: *job.Freelancer,
		Amount:     job.Amount,
		TokenURI:   tokenURI,
	})
	return ag, err
}

type ReleaseParams struct {
	JobID   int64
	Caller  string
	Rating  int
	Comment string
}

// Release pays the freelancer out. When a rating accompanies the release it
// is submitted on a detached context after the payout committed; the
// side-channel never blocks or fails the release.
func (c *Coordinator) Release(ctx context.Context, params ReleaseParams) (escrow.Job, error) {
	job, err := c.ledger.Release(ctx, params.JobID, params.Caller)
	if err != nil {
		return escrow.Job{}, err
	}

	if c.ratings != nil && params.Rating > 0 {
		go func(j escrow.Job, rating int, comment string) {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if rerr := c.ratings.Submit(rctx, j.ID, *j.Freelancer, j.Client, rating, comment); rerr != nil {
				c.logger.Printf("coordinator: rating for job %d dropped: %v", j.ID, rerr)
			}
		}(job, params.Rating, params.Comment)
	}

	return job, nil
}

// Dispute freezes the job and records who raised it and why.
func (c *Coordinator) Dispute(ctx context.Context, jobID int64, caller, reason string) (escrow.Job, error) {
	job, err := c.ledger.Dispute(ctx, jobID, caller)
	if err != nil {
		return escrow.Job{}, err
	}
	if c.disputes != nil {
		if derr := c.disputes.Create(ctx, jobID, caller, reason); derr != nil {
			c.logger.Printf("coordinator: dispute record for job %d: %v", jobID, derr)
		}
	}
	return job, nil
}

// Reclaim and MarkDelivered are pure pass-throughs.

func (c *Coordinator) Reclaim(ctx context.Context, jobID int64, caller string) (escrow.Job, error) {
	return c.ledger.Reclaim(ctx, jobID, caller)
}

func (c *Coordinator) MarkDelivered(ctx context.Context, jobID int64, caller string) (escrow.Job, error) {
	return c.ledger.MarkDelivered(ctx, jobID, caller)
}
