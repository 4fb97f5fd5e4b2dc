package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/workflow"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	store := NewGormStore(db)
	store.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return store, mock
}

func caseRows(status workflow.Status) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "subject_role", "subject_user_id", "status", "reviewed_by", "comments", "linked_appointment_ids", "version"}).
		AddRow("case-1", "recipient", "user-1", string(status), `{}`, `{}`, `[]`, 0)
}

func TestGormCommitTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `donation_cases`").WillReturnRows(caseRows(workflow.StatusPending))
	mock.ExpectQuery("SELECT \\* FROM `transition_records`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "case_id", "sequence", "from_status", "to_status"}).
			AddRow("r1", "case-1", 1, "", "pending"))
	mock.ExpectExec("UPDATE `donation_cases`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `transition_records`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c := &models.DonationCase{ID: "case-1", SubjectRole: workflow.RoleRecipient, Status: workflow.StatusPending}
	rec := &models.TransitionRecord{ID: "r2", ActorID: "doc-1", ActorRole: workflow.RoleDoctor, Decision: "approve", Stage: "doctor_review"}
	stored, err := store.CommitTransition(context.Background(), c, workflow.StatusDoctorApproved, rec)
	if err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}
	if stored.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", stored.Sequence)
	}
	if c.Status != workflow.StatusDoctorApproved || c.Version != 1 || c.ReviewedByMap()["doctor_review"] != "doc-1" {
		t.Fatalf("caller case not refreshed: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormCommitTransitionStaleRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `donation_cases`").WillReturnRows(caseRows(workflow.StatusDoctorApproved))
	mock.ExpectQuery("SELECT \\* FROM `transition_records`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "case_id", "sequence", "from_status", "to_status"}).
			AddRow("r2", "case-1", 2, "pending", "doctor_approved"))
	mock.ExpectRollback()

	c := &models.DonationCase{ID: "case-1", SubjectRole: workflow.RoleRecipient, Status: workflow.StatusPending}
	_, err := store.CommitTransition(context.Background(), c, workflow.StatusRejected, &models.TransitionRecord{ActorID: "doc-2", Stage: "doctor_review"})
	if !errors.Is(err, workflow.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	if c.Status != workflow.StatusPending {
		t.Fatalf("caller case modified on failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormCommitTransitionDuplicateReturnsStoredRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `donation_cases`").WillReturnRows(caseRows(workflow.StatusDoctorApproved))
	mock.ExpectQuery("SELECT \\* FROM `transition_records`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "case_id", "sequence", "from_status", "to_status", "actor_id", "decision"}).
			AddRow("r2", "case-1", 2, "pending", "doctor_approved", "doc-1", "approve"))
	mock.ExpectCommit()

	c := &models.DonationCase{ID: "case-1", Status: workflow.StatusPending}
	stored, err := store.CommitTransition(context.Background(), c, workflow.StatusDoctorApproved, &models.TransitionRecord{ID: "r3", ActorID: "doc-1", Decision: "approve"})
	if err != nil {
		t.Fatalf("duplicate commit: %v", err)
	}
	if stored.ID != "r2" || c.Status != workflow.StatusDoctorApproved {
		t.Fatalf("expected stored record r2, got %+v (case %q)", stored, c.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormCommitTransitionSameEdgeOtherActorIsStale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `donation_cases`").WillReturnRows(caseRows(workflow.StatusDoctorApproved))
	mock.ExpectQuery("SELECT \\* FROM `transition_records`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "case_id", "sequence", "from_status", "to_status", "actor_id", "decision"}).
			AddRow("ra", "case-1", 2, "pending", "doctor_approved", "doc-A", "approve"))
	mock.ExpectRollback()

	c := &models.DonationCase{ID: "case-1", Status: workflow.StatusPending}
	stored, err := store.CommitTransition(context.Background(), c, workflow.StatusDoctorApproved, &models.TransitionRecord{ID: "rb", ActorID: "doc-B", Decision: "approve"})
	if !errors.Is(err, workflow.ErrStaleState) {
		t.Fatalf("expected ErrStaleState for doc-B, got err=%v record=%+v", err, stored)
	}
	if c.Status != workflow.StatusPending {
		t.Fatalf("caller case modified on failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormCommitTransitionBackendFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `donation_cases`").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	c := &models.DonationCase{ID: "case-1", Status: workflow.StatusPending}
	_, err := store.CommitTransition(context.Background(), c, workflow.StatusDoctorApproved, &models.TransitionRecord{ActorID: "doc-1"})
	if !errors.Is(err, workflow.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
}

func TestGormGetCaseNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `donation_cases`").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetCase(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormTryLockHeld(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("sweep").WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))

	if _, err := store.TryLock(context.Background(), "sweep"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}
