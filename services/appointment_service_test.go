package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"
	"donation-workflow-api/workflow"
)

func approvedRecipient(t *testing.T, svc *WorkflowService) *models.DonationCase {
	t.Helper()
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")
	decide(t, svc, c.ID, doctor, "approve", "")
	return decide(t, svc, c.ID, admin, "approve", "").Case
}

func TestScheduleRequiresEligibility(t *testing.T) {
	wf, store, _, _ := newTestWorkflow(t)
	appts := NewAppointmentService(store, nil)
	ctx := context.Background()

	pending := openCase(t, wf, workflow.RoleDonor, "donor-1")
	_, err := appts.Schedule(ctx, ScheduleInput{CaseID: pending.ID, Actor: doctor, When: time.Now().Add(24 * time.Hour)})
	var notEligible *NotEligibleError
	if !errors.As(err, &notEligible) || !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected NotEligibleError, got %v", err)
	}
	if !strings.Contains(notEligible.Reason, "initial review") {
		t.Fatalf("reason should be actionable, got %q", notEligible.Reason)
	}

	c := approvedRecipient(t, wf)
	appt, err := appts.Schedule(ctx, ScheduleInput{CaseID: c.ID, Actor: doctor, When: time.Now().Add(24 * time.Hour), Purpose: " cross-match "})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if appt.Status != models.AppointmentScheduled || appt.Category != workflow.RoleRecipient || appt.Purpose != "cross-match" {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	fresh, _ := store.GetCase(ctx, c.ID)
	if !fresh.HasAppointment(appt.ID) {
		t.Fatalf("appointment id not linked into case")
	}
	if fresh.Status != workflow.StatusAdminApproved {
		t.Fatalf("scheduling must not change case status")
	}
}

func TestScheduleRejectsBadInput(t *testing.T) {
	wf, store, _, _ := newTestWorkflow(t)
	appts := NewAppointmentService(store, nil)
	c := approvedRecipient(t, wf)
	ctx := context.Background()

	if _, err := appts.Schedule(ctx, ScheduleInput{CaseID: c.ID, Actor: admin, When: time.Now().Add(time.Hour)}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admins do not schedule, got %v", err)
	}
	if _, err := appts.Schedule(ctx, ScheduleInput{CaseID: c.ID, Actor: doctor, When: time.Now().Add(-time.Hour)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("past time should be invalid, got %v", err)
	}
	if _, err := appts.Schedule(ctx, ScheduleInput{CaseID: "nope", Actor: doctor, When: time.Now().Add(time.Hour)}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppointmentStatusChanges(t *testing.T) {
	wf, store, _, _ := newTestWorkflow(t)
	appts := NewAppointmentService(store, nil)
	c := approvedRecipient(t, wf)
	ctx := context.Background()

	appt, err := appts.Schedule(ctx, ScheduleInput{CaseID: c.ID, Actor: doctor, When: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := appts.UpdateStatus(ctx, Actor{UserID: "rec-1", Role: workflow.RoleRecipient}, appt.ID, "cancelled"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("subjects cannot update appointments, got %v", err)
	}
	if _, err := appts.UpdateStatus(ctx, doctor, appt.ID, "scheduled"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	updated, err := appts.UpdateStatus(ctx, doctor, appt.ID, "canceled")
	if err != nil || updated.Status != models.AppointmentCancelled {
		t.Fatalf("cancel = %+v, %v", updated, err)
	}
	if _, err := appts.UpdateStatus(ctx, doctor, appt.ID, "cancelled"); err != nil {
		t.Fatalf("repeating the same status should be a no-op, got %v", err)
	}
	if _, err := appts.UpdateStatus(ctx, admin, appt.ID, "completed"); !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("completing a cancelled appointment should be illegal, got %v", err)
	}

	fresh, _ := store.GetCase(ctx, c.ID)
	if fresh.Status != workflow.StatusAdminApproved {
		t.Fatalf("cancelling must not change case status, got %q", fresh.Status)
	}

	list, err := appts.List(ctx, Actor{UserID: "rec-1", Role: workflow.RoleRecipient}, c.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("owner list = %v, %v", list, err)
	}
	if _, err := appts.List(ctx, Actor{UserID: "someone", Role: workflow.RoleRecipient}, c.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("stranger list should be not found, got %v", err)
	}
}
