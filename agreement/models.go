package agreement

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no agreement exists for the token or job.
	ErrNotFound = errors.New("agreement: not found")
	// ErrNotIssuer signals a mint attempt without issuer authority.
	ErrNotIssuer = errors.New("agreement: caller does not hold issuer authority")
	// ErrDuplicateMint signals a second mint for a job with a conflicting
	// snapshot. This is a coordinator bug, not a routine failure: the
	// one-agreement-per-job invariant makes a matching re-mint a no-op, so a
	// mismatch means someone tried to bind different terms to the same job.
	ErrDuplicateMint = errors.New("agreement: duplicate mint with conflicting snapshot")
)

// Status mirrors the owning job's terminal category at query time. It is
// derived, never stored: the snapshot columns stay frozen while status tracks
// the job.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
)

// Agreement is the portable proof of an accepted proposal. Client,
// Freelancer, Amount and CreatedAt are a snapshot copied at mint time, not a
// live reference, so the record stays a faithful historical artifact even if
// display data changes elsewhere.
type Agreement struct {
	TokenID    int64
	JobID      int64
	Client     string
	Freelancer string
	Amount     int64
	TokenURI   string
	Status     Status
	CreatedAt  time.Time
}
