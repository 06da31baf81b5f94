package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Record mirrors the disputes table. It annotates a job the escrow ledger
// has frozen; resolving a record is bookkeeping for out-of-band arbitration
// and moves no funds.
type Record struct {
	ID         string
	JobID      int64
	RaisedBy   string
	Reason     string
	Status     Status
	Resolution *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
