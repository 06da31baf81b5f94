package agreement

import (
	"context"
	"errors"
	"testing"
)

const (
	clientAddr     = "0x1111111111111111111111111111111111111111"
	freelancerAddr = "0x2222222222222222222222222222222222222222"
)

func validParams() MintParams {
	return MintParams{
		Issuer:     "coordinator",
		JobID:      7,
		Client:     clientAddr,
		Freelancer: freelancerAddr,
		Amount:     10_000,
		TokenURI:   "ipfs://meta",
	}
}

func TestMintRejectsWrongIssuer(t *testing.T) {
	r := NewRegistry(nil, "coordinator")

	params := validParams()
	params.Issuer = "someone-else"

	_, _, err := r.Mint(context.Background(), params)
	if !errors.Is(err, ErrNotIssuer) {
		t.Errorf("err = %v, want ErrNotIssuer", err)
	}
}

func TestMintValidatesParams(t *testing.T) {
	r := NewRegistry(nil, "coordinator")

	tests := []struct {
		name   string
		mutate func(*MintParams)
	}{
		{"missing job id", func(p *MintParams) { p.JobID = 0 }},
		{"missing client", func(p *MintParams) { p.Client = "" }},
		{"missing freelancer", func(p *MintParams) { p.Freelancer = "" }},
		{"zero amount", func(p *MintParams) { p.Amount = 0 }},
		{"negative amount", func(p *MintParams) { p.Amount = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			if _, _, err := r.Mint(context.Background(), params); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSnapshotMatches(t *testing.T) {
	existing := Agreement{
		TokenID:    1,
		JobID:      7,
		Client:     clientAddr,
		Freelancer: freelancerAddr,
		Amount:     10_000,
		TokenURI:   "ipfs://meta",
	}

	if !snapshotMatches(existing, validParams()) {
		t.Error("identical snapshot should match")
	}

	// TokenURI is not part of the snapshot identity; a retry with a different
	// URI still resolves to the existing record.
	p := validParams()
	p.TokenURI = "ipfs://other"
	if !snapshotMatches(existing, p) {
		t.Error("token uri difference should not break idempotence")
	}

	p = validParams()
	p.Freelancer = clientAddr
	if snapshotMatches(existing, p) {
		t.Error("different freelancer should not match")
	}

	p = validParams()
	p.Amount = 9_999
	if snapshotMatches(existing, p) {
		t.Error("different amount should not match")
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		jobStatus string
		want      Status
	}{
		{"assigned", StatusActive},
		{"delivered", StatusActive},
		{"completed", StatusCompleted},
		{"disputed", StatusDisputed},
	}
	for _, tt := range tests {
		if got := deriveStatus(tt.jobStatus); got != tt.want {
			t.Errorf("deriveStatus(%q) = %s, want %s", tt.jobStatus, got, tt.want)
		}
	}
}
