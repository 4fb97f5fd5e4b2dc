package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"
	"donation-workflow-api/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppointmentStore is what AppointmentService needs from persistence.
type AppointmentStore interface {
	repository.AppointmentStore
	GetCase(ctx context.Context, id string) (*models.DonationCase, error)
}

type AppointmentService struct {
	store  AppointmentStore
	logger *zap.Logger
	now    func() time.Time
}

func NewAppointmentService(store AppointmentStore, logger *zap.Logger) *AppointmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentService{store: store, logger: logger, now: time.Now}
}

type ScheduleInput struct {
	CaseID  string
	Actor   Actor
	When    time.Time
	Purpose string
}

// Schedule books an appointment for an eligible case. Only doctors schedule.
func (s *AppointmentService) Schedule(ctx context.Context, in ScheduleInput) (*models.Appointment, error) {
	if in.Actor.Role != workflow.RoleDoctor {
		return nil, fmt.Errorf("%w: only doctors schedule appointments", ErrForbidden)
	}
	if in.When.IsZero() || !in.When.After(s.now()) {
		return nil, invalidInput("appointment time must be in the future")
	}

	c, err := s.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	state := c.State()
	if !workflow.IsEligibleForAppointment(state) {
		return nil, &NotEligibleError{CaseID: c.ID, Reason: workflow.IneligibilityReason(state)}
	}

	appt := &models.Appointment{
		ID:          uuid.NewString(),
		SubjectID:   c.ID,
		Category:    c.SubjectRole,
		ScheduledBy: in.Actor.UserID,
		When:        in.When.UTC(),
		Purpose:     strings.TrimSpace(in.Purpose),
		Status:      models.AppointmentScheduled,
	}
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		return nil, err
	}
	s.logger.Info("appointment scheduled",
		zap.String("appointment_id", appt.ID),
		zap.String("case_id", c.ID),
		zap.String("doctor_id", in.Actor.UserID),
		zap.Time("when", appt.When))
	return appt, nil
}

// List returns the canonical appointments of a case visible to actor.
func (s *AppointmentService) List(ctx context.Context, actor Actor, caseID string) ([]models.Appointment, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, c) {
		return nil, fmt.Errorf("case %s: %w", caseID, repository.ErrNotFound)
	}
	return s.store.ListAppointments(ctx, caseID)
}

// UpdateStatus completes or cancels a scheduled appointment. The owning
// case's status is never touched.
func (s *AppointmentService) UpdateStatus(ctx context.Context, actor Actor, appointmentID, raw string) (*models.Appointment, error) {
	if !actor.Role.IsReviewer() {
		return nil, fmt.Errorf("%w: only doctors and admins update appointments", ErrForbidden)
	}
	to, err := models.ParseAppointmentStatus(raw)
	if err != nil || strings.TrimSpace(raw) == "" {
		return nil, invalidInput("status must be completed or cancelled")
	}
	if to == models.AppointmentScheduled {
		return nil, invalidInput("status must be completed or cancelled")
	}

	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if current.Status.IsFinal() {
		return nil, &workflow.TransitionError{
			Err:      workflow.ErrIllegalTransition,
			From:     workflow.Status(current.Status),
			Decision: workflow.Decision(to),
			Role:     actor.Role,
			Detail:   fmt.Sprintf("appointment is already %s", current.Status),
		}
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, appointmentID, current.Status, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("appointment status updated",
		zap.String("appointment_id", appointmentID),
		zap.String("status", string(to)),
		zap.String("actor_id", actor.UserID))
	return updated, nil
}
