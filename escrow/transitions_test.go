package escrow

import (
	"testing"
	"time"
)

const (
	clientAddr     = "0x1111111111111111111111111111111111111111"
	freelancerAddr = "0x2222222222222222222222222222222222222222"
	outsiderAddr   = "0x3333333333333333333333333333333333333333"
)

func openJob() Job {
	return Job{
		ID:       1,
		Client:   clientAddr,
		Amount:   10_000,
		Deadline: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		Status:   StatusOpen,
	}
}

func assignedJob() Job {
	j := openJob()
	fl := freelancerAddr
	j.Freelancer = &fl
	j.Status = StatusAssigned
	return j
}

func TestAssignGuard(t *testing.T) {
	tests := []struct {
		name       string
		job        Job
		caller     string
		freelancer string
		wantRule   Rule
	}{
		{"open job by client", openJob(), clientAddr, freelancerAddr, ""},
		{"wrong caller", openJob(), outsiderAddr, freelancerAddr, RuleWrongCaller},
		{"self assignment", openJob(), clientAddr, clientAddr, RuleSelfAssignment},
		{"already assigned", assignedJob(), clientAddr, freelancerAddr, RuleWrongState},
		{"refunded job", withStatus(openJob(), StatusRefunded), clientAddr, freelancerAddr, RuleWrongState},
		{"disputed job", withStatus(assignedJob(), StatusDisputed), clientAddr, freelancerAddr, RuleWrongState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRule(t, assignGuard(tt.job, tt.caller, tt.freelancer), tt.wantRule)
		})
	}
}

func TestReclaimGuard(t *testing.T) {
	beforeDeadline := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	afterDeadline := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	atDeadline := openJob().Deadline

	tests := []struct {
		name     string
		job      Job
		caller   string
		now      time.Time
		wantRule Rule
	}{
		{"past deadline by client", openJob(), clientAddr, afterDeadline, ""},
		{"before deadline", openJob(), clientAddr, beforeDeadline, RuleDeadlineNotReached},
		{"exactly at deadline", openJob(), clientAddr, atDeadline, RuleDeadlineNotReached},
		{"wrong caller", openJob(), outsiderAddr, afterDeadline, RuleWrongCaller},
		{"assigned job", assignedJob(), clientAddr, afterDeadline, RuleWrongState},
		{"already refunded", withStatus(openJob(), StatusRefunded), clientAddr, afterDeadline, RuleWrongState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRule(t, reclaimGuard(tt.job, tt.caller, tt.now), tt.wantRule)
		})
	}
}

func TestDeliverGuard(t *testing.T) {
	tests := []struct {
		name     string
		job      Job
		caller   string
		wantRule Rule
	}{
		{"assigned by freelancer", assignedJob(), freelancerAddr, ""},
		{"by client", assignedJob(), clientAddr, RuleWrongCaller},
		{"by outsider", assignedJob(), outsiderAddr, RuleWrongCaller},
		{"open job", openJob(), freelancerAddr, RuleWrongState},
		{"already delivered", withStatus(assignedJob(), StatusDelivered), freelancerAddr, RuleWrongState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRule(t, deliverGuard(tt.job, tt.caller), tt.wantRule)
		})
	}
}

func TestReleaseGuard(t *testing.T) {
	tests := []struct {
		name     string
		job      Job
		caller   string
		wantRule Rule
	}{
		{"assigned by client", assignedJob(), clientAddr, ""},
		{"delivered by client", withStatus(assignedJob(), StatusDelivered), clientAddr, ""},
		{"by freelancer", assignedJob(), freelancerAddr, RuleWrongCaller},
		{"open job", openJob(), clientAddr, RuleWrongState},
		{"completed job", withStatus(assignedJob(), StatusCompleted), clientAddr, RuleWrongState},
		{"disputed job", withStatus(assignedJob(), StatusDisputed), clientAddr, RuleWrongState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRule(t, releaseGuard(tt.job, tt.caller), tt.wantRule)
		})
	}
}

func TestDisputeGuard(t *testing.T) {
	tests := []struct {
		name     string
		job      Job
		caller   string
		wantRule Rule
	}{
		{"assigned by client", assignedJob(), clientAddr, ""},
		{"assigned by freelancer", assignedJob(), freelancerAddr, ""},
		{"delivered by freelancer", withStatus(assignedJob(), StatusDelivered), freelancerAddr, ""},
		{"by outsider", assignedJob(), outsiderAddr, RuleWrongCaller},
		{"open job", openJob(), clientAddr, RuleWrongState},
		{"already disputed", withStatus(assignedJob(), StatusDisputed), clientAddr, RuleWrongState},
		{"completed job", withStatus(assignedJob(), StatusCompleted), clientAddr, RuleWrongState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRule(t, disputeGuard(tt.job, tt.caller), tt.wantRule)
		})
	}
}

func TestTerminalStatesAdmitNothing(t *testing.T) {
	now := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	for _, status := range []Status{StatusCompleted, StatusDisputed, StatusRefunded} {
		j := withStatus(assignedJob(), status)
		if !j.Status.Terminal() {
			t.Errorf("%s: Terminal() = false", status)
		}
		if assignGuard(j, clientAddr, freelancerAddr) == nil {
			t.Errorf("%s: assign allowed", status)
		}
		if reclaimGuard(j, clientAddr, now) == nil {
			t.Errorf("%s: reclaim allowed", status)
		}
		if deliverGuard(j, freelancerAddr) == nil {
			t.Errorf("%s: deliver allowed", status)
		}
		if releaseGuard(j, clientAddr) == nil {
			t.Errorf("%s: release allowed", status)
		}
		if disputeGuard(j, clientAddr) == nil {
			t.Errorf("%s: dispute allowed", status)
		}
	}
}

func withStatus(j Job, status Status) Job {
	j.Status = status
	return j
}

func checkRule(t *testing.T, err *PreconditionError, want Rule) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Fatalf("unexpected guard error: %v", err)
		}
		return
	}
	if err == nil {
		t.Fatalf("expected rule %s, got nil", want)
	}
	if err.Rule != want {
		t.Fatalf("rule = %s, want %s", err.Rule, want)
	}
}
