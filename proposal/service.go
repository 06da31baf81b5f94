package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"quaiwork/wallet"
)

// ErrOwnJob signals a freelancer proposing on their own posting.
var ErrOwnJob = errors.New("proposal: cannot propose on own job")

// JobReader is the slice of the escrow ledger the inbox consults for
// validation. Read-only; the inbox has no write authority over jobs.
type JobReader interface {
	JobClient(ctx context.Context, jobID int64) (string, error)
}

type Service struct {
	repo        Repository
	jobs        JobReader
	idGenerator func() string
}

func NewService(repo Repository, jobs JobReader) *Service {
	return &Service{
		repo:        repo,
		jobs:        jobs,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

type SubmitParams struct {
	JobID       int64
	Freelancer  string
	Rate        int64
	CoverLetter string
}

func (s *Service) Submit(ctx context.Context, params SubmitParams) (Proposal, error) {
	if params.JobID <= 0 {
		return Proposal{}, fmt.Errorf("proposal: missing job id")
	}
	freelancer, err := wallet.NormalizeAddress(params.Freelancer)
	if err != nil {
		return Proposal{}, err
	}
	if params.Rate <= 0 {
		return Proposal{}, fmt.Errorf("proposal: rate must be positive")
	}

	if s.jobs != nil {
		client, err := s.jobs.JobClient(ctx, params.JobID)
		if err != nil {
			return Proposal{}, err
		}
		if client == freelancer {
			return Proposal{}, ErrOwnJob
		}
	}

	return s.repo.Create(ctx, Proposal{
		ID:          s.idGenerator(),
		JobID:       params.JobID,
		Freelancer:  freelancer,
		Rate:        params.Rate,
		CoverLetter: params.CoverLetter,
		Status:      StatusPending,
	})
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Proposal, int, error) {
	return s.repo.List(ctx, filters)
}

// Withdraw lets a freelancer retract a still-pending proposal.
func (s *Service) Withdraw(ctx context.Context, id, caller string) (Proposal, error) {
	callerAddr, err := wallet.NormalizeAddress(caller)
	if err != nil {
		return Proposal{}, err
	}

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proposal{}, err
	}
	if p.Freelancer != callerAddr {
		return Proposal{}, fmt.Errorf("proposal: %s does not belong to caller", id)
	}
	if p.Status != StatusPending {
		return Proposal{}, fmt.Errorf("proposal: %s is %s, only pending proposals can be withdrawn", id, p.Status)
	}
	return s.repo.UpdateStatus(ctx, id, StatusWithdrawn)
}

// MarkAccepted implements the coordinator's ProposalStore.
func (s *Service) MarkAccepted(ctx context.Context, jobID int64, freelancer string) error {
	return s.repo.MarkAccepted(ctx, jobID, freelancer)
}
