package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/workflow"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on MySQL or Postgres through gorm.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistErr("ping", err)
	}
	return persistErr("ping", sqlDB.PingContext(ctx))
}

func (s *GormStore) CreateCase(ctx context.Context, c *models.DonationCase, rec *models.TransitionRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		rec.CaseID = c.ID
		rec.Sequence = 1
		return tx.Create(rec).Error
	})
	return persistErr("create case", err)
}

func (s *GormStore) GetCase(ctx context.Context, id string) (*models.DonationCase, error) {
	var c models.DonationCase
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
		}
		return nil, persistErr("get case", err)
	}
	return &c, nil
}

func (s *GormStore) ListCases(ctx context.Context, filter CaseFilter) ([]models.DonationCase, error) {
	q := s.db.WithContext(ctx).Model(&models.DonationCase{})
	if filter.Role != "" {
		q = q.Where("subject_role = ?", string(filter.Role))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.SubjectUserID != "" {
		q = q.Where("subject_user_id = ?", filter.SubjectUserID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var cases []models.DonationCase
	if err := q.Order("created_at DESC").Find(&cases).Error; err != nil {
		return nil, persistErr("list cases", err)
	}
	return cases, nil
}

func (s *GormStore) CommitTransition(ctx context.Context, c *models.DonationCase, to workflow.Status, rec *models.TransitionRecord) (*models.TransitionRecord, error) {
	from := c.Status
	rec.CaseID = c.ID
	rec.FromStatus = from
	rec.ToStatus = to
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	var stored *models.TransitionRecord
	var updated models.DonationCase
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.DonationCase
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", c.ID).
			First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("case %s: %w", c.ID, ErrNotFound)
			}
			return err
		}

		var latest []models.TransitionRecord
		if err := tx.Where("case_id = ?", c.ID).
			Order("sequence DESC").
			Limit(1).
			Find(&latest).Error; err != nil {
			return err
		}

		if len(latest) == 1 && cur.Status == to && latest[0].SameEdge(from, to) && latest[0].SameRequest(rec) {
			stored = &latest[0]
			updated = cur
			return nil
		}
		if cur.Status != from {
			return staleErr(c.ID, cur.Status, from)
		}

		seq := 1
		if len(latest) == 1 {
			seq = latest[0].Sequence + 1
		}
		rec.Sequence = seq

		reviewed := models.AppendStage(cur.ReviewedByMap(), rec.Stage, rec.ActorID)
		comments := cur.CommentsMap()
		if text := commentOf(rec); text != "" {
			comments = models.AppendStage(comments, rec.Stage, text)
		}

		res := tx.Model(&models.DonationCase{}).
			Where("id = ? AND status = ?", c.ID, string(from)).
			Updates(map[string]interface{}{
				"status":      string(to),
				"reviewed_by": datatypes.NewJSONType(reviewed),
				"comments":    datatypes.NewJSONType(comments),
				"version":     gorm.Expr("version + 1"),
				"updated_at":  rec.Timestamp,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return staleErr(c.ID, cur.Status, from)
		}

		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		updated = cur
		updated.Status = to
		updated.ReviewedBy = datatypes.NewJSONType(reviewed)
		updated.Comments = datatypes.NewJSONType(comments)
		updated.Version = cur.Version + 1
		updated.UpdatedAt = rec.Timestamp
		stored = rec
		return nil
	})
	if err != nil {
		return nil, persistErr("commit transition", err)
	}
	*c = updated
	return stored, nil
}

func (s *GormStore) History(ctx context.Context, caseID string) ([]models.TransitionRecord, error) {
	var records []models.TransitionRecord
	if err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("sequence ASC").
		Find(&records).Error; err != nil {
		return nil, persistErr("history", err)
	}
	return records, nil
}

// lockCase reads the case row under a write lock inside tx.
func lockCase(tx *gorm.DB, id string) (*models.DonationCase, error) {
	var c models.DonationCase
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func linkAppointment(tx *gorm.DB, c *models.DonationCase, appointmentID string) error {
	if c.HasAppointment(appointmentID) {
		return nil
	}
	linked := append(datatypes.JSONSlice[string]{}, c.LinkedAppointmentIDs...)
	linked = append(linked, appointmentID)
	return tx.Model(&models.DonationCase{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"linked_appointment_ids": linked,
			"version":                gorm.Expr("version + 1"),
		}).Error
}

func (s *GormStore) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockCase(tx, a.SubjectID)
		if err != nil {
			return err
		}
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		return linkAppointment(tx, c, a.ID)
	})
	return persistErr("create appointment", err)
}

func (s *GormStore) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	var a models.Appointment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
		}
		return nil, persistErr("get appointment", err)
	}
	return &a, nil
}

func (s *GormStore) ListAppointments(ctx context.Context, subjectID string) ([]models.Appointment, error) {
	var out []models.Appointment
	if err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("scheduled_for ASC").
		Find(&out).Error; err != nil {
		return nil, persistErr("list appointments", err)
	}
	return out, nil
}

func (s *GormStore) UpdateAppointmentStatus(ctx context.Context, id string, from, to models.AppointmentStatus) (*models.Appointment, error) {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return nil, persistErr("update appointment", res.Error)
	}
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && a.Status != to {
		return nil, fmt.Errorf("%w: appointment %s is %q, expected %q", workflow.ErrStaleState, id, a.Status, from)
	}
	return a, nil
}

func (s *GormStore) LegacyAppointmentsFor(ctx context.Context, subjectID string) ([]models.LegacyAppointment, error) {
	var rows []models.LegacyAppointment
	if err := s.db.WithContext(ctx).
		Where("donor_id = ? OR recipient_id = ? OR patient_id = ? OR user_id = ?", subjectID, subjectID, subjectID, subjectID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, persistErr("list legacy appointments", err)
	}
	return rows, nil
}

func (s *GormStore) ReferencedSubjects(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	collect := func(model interface{}, column string) error {
		var ids []string
		if err := s.db.WithContext(ctx).Model(model).
			Where(column+" IS NOT NULL AND "+column+" <> ''").
			Distinct().
			Pluck(column, &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				seen[id] = struct{}{}
			}
		}
		return nil
	}

	if err := collect(&models.Appointment{}, "subject_id"); err != nil {
		return nil, persistErr("referenced subjects", err)
	}
	for _, column := range []string{"donor_id", "recipient_id", "patient_id", "user_id"} {
		if err := collect(&models.LegacyAppointment{}, column); err != nil {
			return nil, persistErr("referenced subjects", err)
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *GormStore) MigrateLegacyAppointment(ctx context.Context, legacyID string, appt *models.Appointment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var legacy models.LegacyAppointment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", legacyID).First(&legacy).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("legacy appointment %s: %w", legacyID, ErrNotFound)
			}
			return err
		}

		c, err := lockCase(tx, appt.SubjectID)
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.Appointment{}).Where("id = ?", appt.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			if err := tx.Create(appt).Error; err != nil {
				return err
			}
		}
		if err := linkAppointment(tx, c, appt.ID); err != nil {
			return err
		}

		now := s.now()
		return tx.Model(&models.LegacyAppointment{}).
			Where("id = ?", legacyID).
			Updates(map[string]interface{}{
				"migrated_to": appt.ID,
				"migrated_at": now,
			}).Error
	})
	return persistErr("migrate legacy appointment", err)
}

func (s *GormStore) RelinkAppointment(ctx context.Context, appointmentID string, category workflow.Role) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.Appointment
		if err := tx.Where("id = ?", appointmentID).First(&a).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
			}
			return err
		}
		c, err := lockCase(tx, a.SubjectID)
		if err != nil {
			return err
		}
		if a.Category != category {
			if err := tx.Model(&models.Appointment{}).
				Where("id = ?", a.ID).
				Updates(map[string]interface{}{
					"category":   string(category),
					"updated_at": s.now(),
				}).Error; err != nil {
				return err
			}
		}
		return linkAppointment(tx, c, a.ID)
	})
	return persistErr("relink appointment", err)
}

func (s *GormStore) StartRun(ctx context.Context, trigger string, dryRun bool) (*models.ReconciliationRun, error) {
	if trigger == "" {
		trigger = "unknown"
	}
	run := &models.ReconciliationRun{
		TriggerSource: trigger,
		Status:        models.ReconciliationRunStatusRunning,
		DryRun:        dryRun,
		StartedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, persistErr("start run", err)
	}
	return run, nil
}

func (s *GormStore) FinishRun(ctx context.Context, run *models.ReconciliationRun) error {
	if run.FinishedAt == nil {
		now := s.now()
		run.FinishedAt = &now
	}
	updates := map[string]interface{}{
		"status":           run.Status,
		"finished_at":      *run.FinishedAt,
		"subjects_scanned": run.SubjectsScanned,
		"records_scanned":  run.RecordsScanned,
		"correct_records":  run.CorrectRecords,
		"misplaced":        run.Misplaced,
		"orphaned":         run.Orphaned,
		"repaired":         run.Repaired,
		"failed":           run.Failed,
	}
	if run.ErrorMessage != nil {
		msg := *run.ErrorMessage
		if len(msg) > 1000 {
			msg = fmt.Sprintf("%s...", msg[:997])
		}
		updates["error_message"] = msg
	}
	if run.ReportKey != nil {
		updates["report_key"] = *run.ReportKey
	}
	res := s.db.WithContext(ctx).Model(&models.ReconciliationRun{}).Where("id = ?", run.ID).Updates(updates)
	if res.Error != nil {
		return persistErr("finish run", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reconciliation run %d: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ReconciliationRun
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, persistErr("list runs", err)
	}
	return runs, nil
}

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return persistErr("create notification", s.db.WithContext(ctx).Create(n).Error)
}

func (s *GormStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("create_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, persistErr("list notifications", err)
	}
	return out, nil
}

func (s *GormStore) MarkNotificationsRead(ctx context.Context, userID, id string) error {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", userID, false)
	if id != "" {
		q = q.Where("notification_id = ?", id)
	}
	return persistErr("mark notifications read", q.Update("is_read", true).Error)
}

// TryLock takes a named advisory lock on a dedicated connection so the lock
// and its release run on the same session.
func (s *GormStore) TryLock(ctx context.Context, name string) (func() error, error) {
	if strings.TrimSpace(name) == "" {
		return func() error { return nil }, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, persistErr("lock", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, persistErr("lock", err)
	}

	var acquireSQL, releaseSQL string
	switch s.db.Dialector.Name() {
	case "postgres":
		acquireSQL = "SELECT pg_try_advisory_lock(hashtext($1))"
		releaseSQL = "SELECT pg_advisory_unlock(hashtext($1))"
	default:
		acquireSQL = "SELECT GET_LOCK(?, 0) = 1"
		releaseSQL = "SELECT RELEASE_LOCK(?)"
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, acquireSQL, name).Scan(&ok); err != nil {
		conn.Close()
		return nil, persistErr("lock", err)
	}
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrLockHeld)
	}

	return func() error {
		defer conn.Close()
		var released interface{}
		return conn.QueryRowContext(context.Background(), releaseSQL, name).Scan(&released)
	}, nil
}
