// Package proposal is the off-chain proposal inbox. It exists for display
// and bookkeeping only: the escrow ledger never reads it, and acceptance
// reaches the ledger as an already-chosen freelancer address.
package proposal

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Proposal mirrors the proposals table. Rate is the freelancer's asking
// price in smallest currency units; it is informational and does not change
// the escrowed amount.
type Proposal struct {
	ID          string
	JobID       int64
	Freelancer  string
	Rate        int64
	CoverLetter string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Filters struct {
	JobID      int64
	Freelancer string
	Status     Status
	Page       int
	PageSize   int
}
