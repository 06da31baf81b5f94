package proposal

import (
	"context"
	"errors"
	"testing"

	"quaiwork/escrow"
)

const (
	clientAddr     = "0x1111111111111111111111111111111111111111"
	freelancerAddr = "0x2222222222222222222222222222222222222222"
)

type fakeRepo struct {
	created   []Proposal
	byID      map[string]Proposal
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]Proposal)}
}

func (f *fakeRepo) Create(_ context.Context, p Proposal) (Proposal, error) {
	if f.createErr != nil {
		return Proposal{}, f.createErr
	}
	f.created = append(f.created, p)
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeRepo) List(context.Context, Filters) ([]Proposal, int, error) {
	return f.created, len(f.created), nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (Proposal, error) {
	p, ok := f.byID[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id string, status Status) (Proposal, error) {
	p, ok := f.byID[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	p.Status = status
	f.byID[id] = p
	return p, nil
}

func (f *fakeRepo) MarkAccepted(context.Context, int64, string) error {
	return nil
}

type fakeJobs struct {
	client string
	err    error
}

func (f *fakeJobs) JobClient(context.Context, int64) (string, error) {
	return f.client, f.err
}

func TestSubmitNormalizesFreelancer(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeJobs{client: clientAddr}).
		WithIDGenerator(func() string { return "p-1" })

	p, err := svc.Submit(context.Background(), SubmitParams{
		JobID:      7,
		Freelancer: "0x2222222222222222222222222222222222222222",
		Rate:       5_000,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p.Freelancer != freelancerAddr {
		t.Errorf("freelancer = %q", p.Freelancer)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.ID != "p-1" {
		t.Errorf("id = %q, want generated id", p.ID)
	}
}

func TestSubmitRejectsOwnJob(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeJobs{client: clientAddr})

	_, err := svc.Submit(context.Background(), SubmitParams{
		JobID:      7,
		Freelancer: clientAddr,
		Rate:       5_000,
	})
	if !errors.Is(err, ErrOwnJob) {
		t.Errorf("err = %v, want ErrOwnJob", err)
	}
}

func TestSubmitUnknownJob(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeJobs{err: escrow.ErrJobNotFound})

	_, err := svc.Submit(context.Background(), SubmitParams{
		JobID:      999,
		Freelancer: freelancerAddr,
		Rate:       5_000,
	})
	if !errors.Is(err, escrow.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeJobs{client: clientAddr})

	tests := []struct {
		name   string
		params SubmitParams
	}{
		{"missing job id", SubmitParams{Freelancer: freelancerAddr, Rate: 100}},
		{"bad address", SubmitParams{JobID: 7, Freelancer: "nope", Rate: 100}},
		{"zero rate", SubmitParams{JobID: 7, Freelancer: freelancerAddr}},
		{"negative rate", SubmitParams{JobID: 7, Freelancer: freelancerAddr, Rate: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), tt.params); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWithdraw(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeJobs{client: clientAddr}).
		WithIDGenerator(func() string { return "p-1" })

	if _, err := svc.Submit(context.Background(), SubmitParams{
		JobID: 7, Freelancer: freelancerAddr, Rate: 100,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p, err := svc.Withdraw(context.Background(), "p-1", freelancerAddr)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if p.Status != StatusWithdrawn {
		t.Errorf("status = %s, want withdrawn", p.Status)
	}

	// A withdrawn proposal cannot be withdrawn again.
	if _, err := svc.Withdraw(context.Background(), "p-1", freelancerAddr); err == nil {
		t.Error("expected error withdrawing twice")
	}
}

func TestWithdrawWrongCaller(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeJobs{client: clientAddr}).
		WithIDGenerator(func() string { return "p-1" })

	if _, err := svc.Submit(context.Background(), SubmitParams{
		JobID: 7, Freelancer: freelancerAddr, Rate: 100,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := svc.Withdraw(context.Background(), "p-1", clientAddr); err == nil {
		t.Error("expected error for non-owner withdrawal")
	}
}
