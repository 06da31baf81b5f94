package escrow

import "time"

// Status is the job lifecycle state. Transitions are monotonic; nothing ever
// returns a job to open. The original contract enum carried a distinct
// "funded" slot that was never reachable (creation funds atomically), so open
// subsumes it here.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAssigned  Status = "assigned"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDisputed, StatusRefunded:
		return true
	default:
		return false
	}
}

// Job mirrors the jobs table. Client, Amount, Deadline and CreatedAt are
// immutable after creation; Freelancer is set at most once by Assign.
// Title/Description/Category are opaque display metadata the ledger stores
// but never interprets.
type Job struct {
	ID          int64
	Client      string
	Freelancer  *string
	Amount      int64
	Deadline    time.Time
	Status      Status
	Title       string
	Description string
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Timeline event types, one per transition.
const (
	EventJobCreated      = "JOB_CREATED"
	EventJobAssigned     = "JOB_ASSIGNED"
	EventJobDelivered    = "JOB_DELIVERED"
	EventPaymentReleased = "PAYMENT_RELEASED"
	EventJobRefunded     = "JOB_REFUNDED"
	EventJobDisputed     = "JOB_DISPUTED"
)

// Outbox topics observed by downstream consumers (registry, indexers).
const (
	TopicJobCreated      = "job.created"
	TopicJobAssigned     = "job.assigned"
	TopicJobDelivered    = "job.delivered"
	TopicPaymentReleased = "payment.released"
	TopicJobRefunded     = "job.refunded"
	TopicJobDisputed     = "job.disputed"
)
