package escrow

import "time"

// Guard checks for every transition, kept as pure functions over the locked
// job row so the state machine is testable without a database. Each returns
// nil when the transition may proceed.

func assignGuard(j Job, caller, freelancer string) *PreconditionError {
	if j.Status != StatusOpen {
		return precondition(j.ID, "assign", RuleWrongState, string(j.Status))
	}
	if caller != j.Client {
		return precondition(j.ID, "assign", RuleWrongCaller, "only the client may assign")
	}
	if freelancer == j.Client {
		return precondition(j.ID, "assign", RuleSelfAssignment, "client cannot assign itself")
	}
	return nil
}

func reclaimGuard(j Job, caller string, now time.Time) *PreconditionError {
	if j.Status != StatusOpen {
		return precondition(j.ID, "reclaim", RuleWrongState, string(j.Status))
	}
	if caller != j.Client {
		return precondition(j.ID, "reclaim", RuleWrongCaller, "only the client may reclaim")
	}
	if !now.After(j.Deadline) {
		return precondition(j.ID, "reclaim", RuleDeadlineNotReached, "")
	}
	return nil
}

func deliverGuard(j Job, caller string) *PreconditionError {
	if j.Status != StatusAssigned {
		return precondition(j.ID, "deliver", RuleWrongState, string(j.Status))
	}
	if j.Freelancer == nil {
		return precondition(j.ID, "deliver", RuleFreelancerUnset, "")
	}
	if caller != *j.Freelancer {
		return precondition(j.ID, "deliver", RuleWrongCaller, "only the freelancer may mark delivered")
	}
	return nil
}

// Release is allowed from assigned or delivered: delivery is advisory and
// the client may release early.
func releaseGuard(j Job, caller string) *PreconditionError {
	if j.Status != StatusAssigned && j.Status != StatusDelivered {
		return precondition(j.ID, "release", RuleWrongState, string(j.Status))
	}
	if caller != j.Client {
		return precondition(j.ID, "release", RuleWrongCaller, "only the client may release")
	}
	if j.Freelancer == nil {
		return precondition(j.ID, "release", RuleFreelancerUnset, "")
	}
	return nil
}

func disputeGuard(j Job, caller string) *PreconditionError {
	if j.Status != StatusAssigned && j.Status != StatusDelivered {
		return precondition(j.ID, "dispute", RuleWrongState, string(j.Status))
	}
	if caller != j.Client && (j.Freelancer == nil || caller != *j.Freelancer) {
		return precondition(j.ID, "dispute", RuleWrongCaller, "only a party to the job may dispute")
	}
	return nil
}
