package escrow

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when no job row exists for the identifier.
var ErrJobNotFound = errors.New("escrow: job not found")

// Rule names the guard a caller violated, in machine-readable form.
type Rule string

const (
	RuleWrongCaller        Rule = "wrong_caller"
	RuleWrongState         Rule = "wrong_state"
	RuleNonPositiveAmount  Rule = "non_positive_amount"
	RuleDeadlineNotReached Rule = "deadline_not_reached"
	RuleSelfAssignment     Rule = "self_assignment"
	RuleFreelancerUnset    Rule = "freelancer_unset"
)

// PreconditionError reports a guard violation. These are terminal for the
// call, never retried, and surface to the caller unmodified.
type PreconditionError struct {
	JobID  int64
	Action string
	Rule   Rule
	Detail string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("escrow: %s job %d: precondition %s", e.Action, e.JobID, e.Rule)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func precondition(jobID int64, action string, rule Rule, detail string) *PreconditionError {
	return &PreconditionError{JobID: jobID, Action: action, Rule: rule, Detail: detail}
}
