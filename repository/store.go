// Package repository persists donation cases, their history and appointments.
// Every multi-row write happens in a single transaction.
package repository

import (
	"context"
	"errors"
	"fmt"

	"donation-workflow-api/models"
	"donation-workflow-api/workflow"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrLockHeld = errors.New("lock already held")
)

// PersistError wraps a backend failure. It matches workflow.ErrPersist and
// the underlying error.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{workflow.ErrPersist, e.Err}
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, workflow.ErrStaleState) || errors.Is(err, workflow.ErrPersist) {
		return err
	}
	return &PersistError{Op: op, Err: err}
}

func staleErr(caseID string, actual, expected workflow.Status) error {
	return fmt.Errorf("%w: case %s is %q, expected %q", workflow.ErrStaleState, caseID, actual, expected)
}

// CaseFilter narrows ListCases. Zero values match everything.
type CaseFilter struct {
	Role          workflow.Role
	Status        workflow.Status
	SubjectUserID string
	Limit         int
	Offset        int
}

type CaseStore interface {
	// CreateCase inserts c together with its creation record.
	CreateCase(ctx context.Context, c *models.DonationCase, rec *models.TransitionRecord) error
	GetCase(ctx context.Context, id string) (*models.DonationCase, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]models.DonationCase, error)
	// CommitTransition moves c from c.Status to "to" and appends rec, all or
	// nothing. Repeating a committed (case, from, to) is a no-op returning the
	// stored record; a case no longer at c.Status yields ErrStaleState.
	CommitTransition(ctx context.Context, c *models.DonationCase, to workflow.Status, rec *models.TransitionRecord) (*models.TransitionRecord, error)
	History(ctx context.Context, caseID string) ([]models.TransitionRecord, error)
}

type AppointmentStore interface {
	// CreateAppointment inserts a and links its id into the owning case.
	CreateAppointment(ctx context.Context, a *models.Appointment) error
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListAppointments(ctx context.Context, subjectID string) ([]models.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, from, to models.AppointmentStatus) (*models.Appointment, error)
}

type LegacyStore interface {
	LegacyAppointmentsFor(ctx context.Context, subjectID string) ([]models.LegacyAppointment, error)
	// ReferencedSubjects lists every subject id any appointment-like record
	// points at, sorted.
	ReferencedSubjects(ctx context.Context) ([]string, error)
	// MigrateLegacyAppointment writes appt (if absent), links it into its case
	// and stamps the legacy row as migrated. The legacy row is kept.
	MigrateLegacyAppointment(ctx context.Context, legacyID string, appt *models.Appointment) error
	// RelinkAppointment sets the appointment category and links it into its case.
	RelinkAppointment(ctx context.Context, appointmentID string, category workflow.Role) error
}

type RunStore interface {
	StartRun(ctx context.Context, trigger string, dryRun bool) (*models.ReconciliationRun, error)
	FinishRun(ctx context.Context, run *models.ReconciliationRun) error
	ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	// MarkNotificationsRead marks one notification of userID as read, or all
	// of them when id is empty.
	MarkNotificationsRead(ctx context.Context, userID, id string) error
}

// Locker hands out named, non-blocking process-wide locks.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func() error, err error)
}

// Store is everything the services need from persistence.
type Store interface {
	CaseStore
	AppointmentStore
	LegacyStore
	RunStore
	NotificationStore
	Locker
	Ping(ctx context.Context) error
}

func commentOf(rec *models.TransitionRecord) string {
	if rec == nil {
		return ""
	}
	return rec.CommentText()
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
