package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Classification string

const (
	ClassCorrect   Classification = "correct"
	ClassMisplaced Classification = "misplaced"
	ClassOrphaned  Classification = "orphaned"
)

// LocationCanonical is the location label of rows in the appointments table.
const LocationCanonical = "appointments"

// legacyNamespace seeds the deterministic ids of migrated legacy rows, so a
// repeated sweep never writes the same appointment twice.
var legacyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("donation-workflow-api/legacy-appointment"))

// Finding is the classification of one scanned record.
type Finding struct {
	RecordID       string         `json:"record_id"`
	Location       string         `json:"location"`
	Classification Classification `json:"classification"`
	Repaired       bool           `json:"repaired"`
	RepairedTo     string         `json:"repaired_to,omitempty"`
	Detail         string         `json:"detail,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type ReconciliationReport struct {
	SubjectID string    `json:"subject_id"`
	CaseFound bool      `json:"case_found"`
	DryRun    bool      `json:"dry_run"`
	Findings  []Finding `json:"findings"`
	Correct   int       `json:"correct"`
	Misplaced int       `json:"misplaced"`
	Orphaned  int       `json:"orphaned"`
	Repaired  int       `json:"repaired"`
	Failed    int       `json:"failed"`
}

func (r *ReconciliationReport) add(f Finding) {
	switch f.Classification {
	case ClassCorrect:
		r.Correct++
	case ClassMisplaced:
		r.Misplaced++
	case ClassOrphaned:
		r.Orphaned++
	}
	if f.Repaired {
		r.Repaired++
	}
	if f.Error != "" {
		r.Failed++
	}
	r.Findings = append(r.Findings, f)
}

type SweepOptions struct {
	DryRun bool
}

// ReconciliationStore is what the sweep needs from persistence.
type ReconciliationStore interface {
	repository.LegacyStore
	repository.RunStore
	repository.Locker
	GetCase(ctx context.Context, id string) (*models.DonationCase, error)
	ListAppointments(ctx context.Context, subjectID string) ([]models.Appointment, error)
}

// ReconciliationService migrates legacy appointment data into the canonical
// layout. Orphans are reported, never removed.
type ReconciliationService struct {
	store    ReconciliationStore
	archiver ReportArchiver
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciliationService(store ReconciliationStore, archiver ReportArchiver, metrics *Metrics, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{store: store, archiver: archiver, metrics: metrics, logger: logger, now: time.Now}
}

// Sweep scans every appointment-like record referencing subjectID.
func (s *ReconciliationService) Sweep(ctx context.Context, subjectID string, opts SweepOptions) (*ReconciliationReport, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, invalidInput("subject id is required")
	}
	report := &ReconciliationReport{SubjectID: subjectID, DryRun: opts.DryRun, Findings: []Finding{}}

	c, err := s.store.GetCase(ctx, subjectID)
	switch {
	case err == nil:
		report.CaseFound = true
	case errors.Is(err, repository.ErrNotFound):
		c = nil
	default:
		return nil, err
	}

	canonical, err := s.store.ListAppointments(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, a := range canonical {
		f := s.checkCanonical(ctx, c, a, opts)
		s.metrics.observeFinding(string(f.Classification), f.Repaired)
		report.add(f)
	}

	legacy, err := s.store.LegacyAppointmentsFor(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, l := range legacy {
		f := s.checkLegacy(ctx, subjectID, c, l, opts)
		s.metrics.observeFinding(string(f.Classification), f.Repaired)
		report.add(f)
	}

	s.logger.Info("reconciliation sweep finished",
		zap.String("subject_id", subjectID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("correct", report.Correct),
		zap.Int("misplaced", report.Misplaced),
		zap.Int("orphaned", report.Orphaned),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *ReconciliationService) checkCanonical(ctx context.Context, c *models.DonationCase, a models.Appointment, opts SweepOptions) Finding {
	f := Finding{RecordID: a.ID, Location: LocationCanonical}
	if c == nil {
		f.Classification = ClassOrphaned
		f.Detail = fmt.Sprintf("no case %s exists", a.SubjectID)
		return f
	}

	var problems []string
	if a.Category != c.SubjectRole {
		problems = append(problems, fmt.Sprintf("category %q should be %q", a.Category, c.SubjectRole))
	}
	if !c.HasAppointment(a.ID) {
		problems = append(problems, "missing from case linked appointments")
	}
	if len(problems) == 0 {
		f.Classification = ClassCorrect
		return f
	}

	f.Classification = ClassMisplaced
	f.Detail = strings.Join(problems, "; ")
	if opts.DryRun {
		return f
	}
	if err := s.store.RelinkAppointment(ctx, a.ID, c.SubjectRole); err != nil {
		f.Error = err.Error()
		s.logger.Warn("failed to relink appointment", zap.String("appointment_id", a.ID), zap.Error(err))
		return f
	}
	f.Repaired = true
	f.RepairedTo = a.ID
	return f
}

func (s *ReconciliationService) checkLegacy(ctx context.Context, subjectID string, c *models.DonationCase, l models.LegacyAppointment, opts SweepOptions) Finding {
	f := Finding{RecordID: l.ID, Location: "legacy_appointments/" + l.Collection}
	if l.MigratedTo != nil && *l.MigratedTo != "" {
		f.Classification = ClassCorrect
		f.Detail = "already migrated to " + *l.MigratedTo
		return f
	}
	if c == nil {
		f.Classification = ClassOrphaned
		f.Detail = fmt.Sprintf("no case %s exists", subjectID)
		return f
	}

	f.Classification = ClassMisplaced
	f.Detail = "stored in legacy partition " + l.Collection
	if implied := l.ImpliedRole(); implied != "" && implied != c.SubjectRole {
		f.Detail += fmt.Sprintf(" for %s but case is %s", implied, c.SubjectRole)
	}

	appt, note := canonicalFromLegacy(c, l)
	if note != "" {
		f.Detail += "; " + note
	}
	if opts.DryRun {
		return f
	}
	if err := s.store.MigrateLegacyAppointment(ctx, l.ID, appt); err != nil {
		f.Error = err.Error()
		s.logger.Warn("failed to migrate legacy appointment", zap.String("legacy_id", l.ID), zap.Error(err))
		return f
	}
	f.Repaired = true
	f.RepairedTo = appt.ID
	return f
}

// LegacyAppointmentID returns the canonical id a legacy row migrates to.
func LegacyAppointmentID(legacyID string) string {
	return uuid.NewSHA1(legacyNamespace, []byte(legacyID)).String()
}

func canonicalFromLegacy(c *models.DonationCase, l models.LegacyAppointment) (*models.Appointment, string) {
	var notes []string
	status, err := models.ParseAppointmentStatus(deref(l.Status))
	if err != nil {
		status = models.AppointmentScheduled
		notes = append(notes, fmt.Sprintf("unknown status %q kept as scheduled", deref(l.Status)))
	}
	when := l.CreatedAt
	if l.ScheduledFor != nil {
		when = *l.ScheduledFor
	} else {
		notes = append(notes, "no scheduled time; using creation time")
	}
	scheduledBy := strings.TrimSpace(deref(l.DoctorID))
	if scheduledBy == "" {
		scheduledBy = "legacy"
	}
	legacyID := l.ID
	return &models.Appointment{
		ID:             LegacyAppointmentID(l.ID),
		SubjectID:      c.ID,
		Category:       c.SubjectRole,
		ScheduledBy:    scheduledBy,
		When:           when.UTC(),
		Purpose:        strings.TrimSpace(deref(l.Purpose)),
		Status:         status,
		LegacySourceID: &legacyID,
	}, strings.Join(notes, "; ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type SweepAllInput struct {
	SubjectIDs    []string
	Limit         int
	TriggerSource string
	LockName      string
	DryRun        bool
	RecordRun     bool
	// Archive uploads the JSON report through the configured archiver.
	Archive bool
}

type SweepSummary struct {
	RunID              uint                    `json:"run_id,omitempty"`
	SubjectsScanned    int                     `json:"subjects_scanned"`
	SubjectsWithErrors int                     `json:"subjects_with_errors"`
	RecordsScanned     int                     `json:"records_scanned"`
	Correct            int                     `json:"correct"`
	Misplaced          int                     `json:"misplaced"`
	Orphaned           int                     `json:"orphaned"`
	Repaired           int                     `json:"repaired"`
	Failed             int                     `json:"failed"`
	ReportKey          string                  `json:"report_key,omitempty"`
	Reports            []*ReconciliationReport `json:"reports"`
}

func (s *SweepSummary) add(r *ReconciliationReport) {
	s.SubjectsScanned++
	s.RecordsScanned += len(r.Findings)
	s.Correct += r.Correct
	s.Misplaced += r.Misplaced
	s.Orphaned += r.Orphaned
	s.Repaired += r.Repaired
	s.Failed += r.Failed
	s.Reports = append(s.Reports, r)
}

// SweepAll sweeps every subject referenced by an appointment-like record,
// or just in.SubjectIDs when given. Only one SweepAll runs at a time per
// lock name.
func (s *ReconciliationService) SweepAll(ctx context.Context, in SweepAllInput) (*SweepSummary, error) {
	summary := &SweepSummary{Reports: []*ReconciliationReport{}}

	release, err := s.store.TryLock(ctx, in.LockName)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, ErrSweepAlreadyRunning
		}
		return nil, err
	}
	defer func() {
		if relErr := release(); relErr != nil {
			s.logger.Warn("failed to release reconciliation lock", zap.Error(relErr))
		}
	}()

	var run *models.ReconciliationRun
	if in.RecordRun {
		run, err = s.store.StartRun(ctx, in.TriggerSource, in.DryRun)
		if err != nil {
			return nil, err
		}
		summary.RunID = run.ID
	}

	var finalErr error
	if run != nil {
		defer func() {
			s.finishRun(ctx, run, summary, finalErr)
		}()
	}

	subjects := in.SubjectIDs
	if len(subjects) == 0 {
		subjects, err = s.store.ReferencedSubjects(ctx)
		if err != nil {
			finalErr = err
			return nil, err
		}
	}
	if in.Limit > 0 && len(subjects) > in.Limit {
		subjects = subjects[:in.Limit]
	}

	for _, subjectID := range subjects {
		if err := ctx.Err(); err != nil {
			finalErr = err
			return summary, err
		}
		report, err := s.Sweep(ctx, subjectID, SweepOptions{DryRun: in.DryRun})
		if err != nil {
			summary.SubjectsWithErrors++
			s.logger.Warn("reconciliation sweep failed for subject", zap.String("subject_id", subjectID), zap.Error(err))
			continue
		}
		summary.add(report)
	}

	if in.Archive && s.archiver != nil {
		key, err := s.archive(ctx, run, summary)
		if err != nil {
			s.logger.Warn("failed to archive reconciliation report", zap.Error(err))
		} else {
			summary.ReportKey = key
		}
	}

	return summary, nil
}

func (s *ReconciliationService) archive(ctx context.Context, run *models.ReconciliationRun, summary *SweepSummary) (string, error) {
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	name := s.now().UTC().Format("20060102T150405Z")
	if run != nil {
		name = fmt.Sprintf("run-%d-%s", run.ID, name)
	}
	return s.archiver.Archive(ctx, name+".json", body, "application/json")
}

func (s *ReconciliationService) finishRun(ctx context.Context, run *models.ReconciliationRun, summary *SweepSummary, runErr error) {
	now := s.now()
	run.FinishedAt = &now
	run.SubjectsScanned = uint(summary.SubjectsScanned)
	run.RecordsScanned = uint(summary.RecordsScanned)
	run.CorrectRecords = uint(summary.Correct)
	run.Misplaced = uint(summary.Misplaced)
	run.Orphaned = uint(summary.Orphaned)
	run.Repaired = uint(summary.Repaired)
	run.Failed = uint(summary.Failed)
	if summary.ReportKey != "" {
		key := summary.ReportKey
		run.ReportKey = &key
	}
	run.Status = models.ReconciliationRunStatusSuccess
	if runErr != nil {
		run.Status = models.ReconciliationRunStatusFailed
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}
	if err := s.store.FinishRun(persistentContext(ctx), run); err != nil {
		s.logger.Warn("failed to record reconciliation run", zap.Uint("run_id", run.ID), zap.Error(err))
	}
}

// Runs lists recent sweep runs, newest first.
func (s *ReconciliationService) Runs(ctx context.Context, limit int) ([]models.ReconciliationRun, error) {
	return s.store.ListRuns(ctx, limit)
}
