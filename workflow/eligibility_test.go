package workflow

import (
	"errors"
	"strings"
	"testing"
)

func TestDonorEligibility(t *testing.T) {
	eligible := map[Status]bool{
		StatusInitiallyApproved:           true,
		StatusMedicalEvaluationInProgress: true,
		StatusMedicalEvaluationCompleted:  true,
		StatusFinalAdminApproved:          true,
	}
	for _, s := range Pipeline(RoleDonor) {
		state := CaseState{Role: RoleDonor, Status: string(s)}
		if got := IsEligibleForAppointment(state); got != eligible[s] {
			t.Fatalf("donor at %q eligible = %v, want %v", s, got, eligible[s])
		}
		reason := IneligibilityReason(state)
		if eligible[s] && reason != "" {
			t.Fatalf("eligible donor at %q has reason %q", s, reason)
		}
		if !eligible[s] && reason == "" {
			t.Fatalf("ineligible donor at %q has no reason", s)
		}
	}
}

func TestRecipientEligibility(t *testing.T) {
	for _, s := range Pipeline(RoleRecipient) {
		state := CaseState{Role: RoleRecipient, Status: string(s)}
		want := s == StatusAdminApproved
		if got := IsEligibleForAppointment(state); got != want {
			t.Fatalf("recipient at %q eligible = %v, want %v", s, got, want)
		}
	}
	if !IsEligibleForAppointment(CaseState{Role: RoleRecipient, Status: "approved"}) {
		t.Fatalf("legacy 'approved' recipient should be eligible")
	}
}

func TestIneligibilityReasonMessages(t *testing.T) {
	reason := IneligibilityReason(CaseState{Role: RoleDonor, Status: string(StatusPending)})
	if !strings.Contains(reason, "initial review") {
		t.Fatalf("unexpected pending donor reason %q", reason)
	}
	if reason := IneligibilityReason(CaseState{Role: RoleDonor, Status: "???"}); !strings.Contains(reason, "unrecognised") {
		t.Fatalf("unexpected reason for unknown status %q", reason)
	}
	if reason := IneligibilityReason(CaseState{Role: "", Status: "pending"}); reason == "" {
		t.Fatalf("expected a reason for a case without subject role")
	}
}

// Once a donor reaches final approval no decision can take eligibility away.
func TestEligibilityIsMonotonicAfterFinalApproval(t *testing.T) {
	state := CaseState{Role: RoleDonor, Status: string(StatusFinalAdminApproved)}
	for _, actor := range []Role{RoleDoctor, RoleAdmin} {
		for _, decision := range []Decision{DecisionApprove, DecisionReject, DecisionOverride} {
			for _, target := range Pipeline(RoleDonor) {
				out, err := AttemptTransition(state, Request{ActorRole: actor, Decision: decision, Comment: "because", Target: string(target)})
				if err == nil {
					t.Fatalf("%s %s -> %q left final approval (%q)", actor, decision, target, out.To)
				}
			}
		}
	}
	if !IsEligibleForAppointment(state) {
		t.Fatalf("final approved donor must stay eligible")
	}
}

func TestReplay(t *testing.T) {
	steps := []Step{
		{From: StatusNone, To: StatusPending},
		{From: StatusPending, To: StatusDoctorApproved},
		{From: StatusDoctorApproved, To: StatusAdminApproved},
	}
	got, err := Replay(steps)
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if got != StatusAdminApproved {
		t.Fatalf("Replay = %q, want %q", got, StatusAdminApproved)
	}

	if got, err := Replay(nil); err != nil || got != StatusNone {
		t.Fatalf("Replay(nil) = %q, %v", got, err)
	}

	broken := []Step{
		{From: StatusNone, To: StatusPending},
		{From: StatusDoctorApproved, To: StatusAdminApproved},
	}
	if _, err := Replay(broken); !errors.Is(err, ErrReplayMismatch) {
		t.Fatalf("expected ErrReplayMismatch, got %v", err)
	}
}
