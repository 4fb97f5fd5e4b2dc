package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/workflow"

	"gorm.io/datatypes"
)

// MemoryStore is an in-process Store used by tests and DB_DRIVER=memory.
// A single mutex serialises every write, which gives the same atomicity as a
// database transaction.
type MemoryStore struct {
	mu            sync.Mutex
	cases         map[string]*models.DonationCase
	records       map[string][]models.TransitionRecord
	appointments  map[string]*models.Appointment
	legacy        map[string]*models.LegacyAppointment
	runs          []*models.ReconciliationRun
	notifications []models.Notification
	locks         map[string]struct{}
	now           func() time.Time

	// FailNext, when set, makes the next write fail with this error. Tests use
	// it to exercise retry paths.
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:        make(map[string]*models.DonationCase),
		records:      make(map[string][]models.TransitionRecord),
		appointments: make(map[string]*models.Appointment),
		legacy:       make(map[string]*models.LegacyAppointment),
		locks:        make(map[string]struct{}),
		now:          time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) takeFailure() error {
	if s.FailNext == nil {
		return nil
	}
	err := s.FailNext
	s.FailNext = nil
	return persistErr("memory", err)
}

func (s *MemoryStore) CreateCase(_ context.Context, c *models.DonationCase, rec *models.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, exists := s.cases[c.ID]; exists {
		return persistErr("create case", fmt.Errorf("duplicate case id %s", c.ID))
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	rec.CaseID = c.ID
	rec.Sequence = 1
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	s.cases[c.ID] = c.Clone()
	s.records[c.ID] = []models.TransitionRecord{*rec}
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, id string) (*models.DonationCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) ListCases(_ context.Context, filter CaseFilter) ([]models.DonationCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DonationCase, 0, len(s.cases))
	for _, c := range s.cases {
		if filter.Role != "" && c.SubjectRole != filter.Role {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.SubjectUserID != "" && c.SubjectUserID != filter.SubjectUserID {
			continue
		}
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []models.DonationCase{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CommitTransition(_ context.Context, c *models.DonationCase, to workflow.Status, rec *models.TransitionRecord) (*models.TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	cur, ok := s.cases[c.ID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", c.ID, ErrNotFound)
	}
	from := c.Status
	history := s.records[c.ID]

	if n := len(history); n > 0 && cur.Status == to && history[n-1].SameEdge(from, to) && history[n-1].SameRequest(rec) {
		existing := history[n-1]
		*c = *cur.Clone()
		return &existing, nil
	}
	if cur.Status != from {
		return nil, staleErr(c.ID, cur.Status, from)
	}

	rec.CaseID = c.ID
	rec.FromStatus = from
	rec.ToStatus = to
	rec.Sequence = len(history) + 1
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	next := cur.Clone()
	next.Status = to
	next.ReviewedBy = datatypes.NewJSONType(models.AppendStage(cur.ReviewedByMap(), rec.Stage, rec.ActorID))
	if text := commentOf(rec); text != "" {
		next.Comments = datatypes.NewJSONType(models.AppendStage(cur.CommentsMap(), rec.Stage, text))
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = rec.Timestamp

	s.cases[c.ID] = next
	s.records[c.ID] = append(history, *rec)
	*c = *next.Clone()
	stored := *rec
	return &stored, nil
}

func (s *MemoryStore) History(_ context.Context, caseID string) ([]models.TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TransitionRecord{}, s.records[caseID]...), nil
}

func (s *MemoryStore) linkLocked(caseID, appointmentID string) error {
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if c.HasAppointment(appointmentID) {
		return nil
	}
	next := c.Clone()
	next.LinkedAppointmentIDs = append(next.LinkedAppointmentIDs, appointmentID)
	next.Version++
	s.cases[caseID] = next
	return nil
}

func (s *MemoryStore) CreateAppointment(_ context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.cases[a.SubjectID]; !ok {
		return fmt.Errorf("case %s: %w", a.SubjectID, ErrNotFound)
	}
	if _, exists := s.appointments[a.ID]; exists {
		return persistErr("create appointment", fmt.Errorf("duplicate appointment id %s", a.ID))
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	s.appointments[a.ID] = &cp
	return s.linkLocked(a.SubjectID, a.ID)
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, subjectID string) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.appointments {
		if a.SubjectID == subjectID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].When.Before(out[j].When) })
	return out, nil
}

func (s *MemoryStore) UpdateAppointmentStatus(_ context.Context, id string, from, to models.AppointmentStatus) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	a, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if a.Status != from && a.Status != to {
		return nil, fmt.Errorf("%w: appointment %s is %q, expected %q", workflow.ErrStaleState, id, a.Status, from)
	}
	if a.Status != to {
		a.Status = to
		a.UpdatedAt = s.now()
	}
	cp := *a
	return &cp, nil
}

// SeedLegacy inserts rows into the legacy appointment table.
func (s *MemoryStore) SeedLegacy(rows ...models.LegacyAppointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		row := rows[i]
		s.legacy[row.ID] = &row
	}
}

// SeedAppointment inserts an appointment without linking it to its case.
func (s *MemoryStore) SeedAppointment(a models.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = &a
}

func (s *MemoryStore) LegacyAppointmentsFor(_ context.Context, subjectID string) ([]models.LegacyAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LegacyAppointment
	for _, l := range s.legacy {
		if l.References(subjectID) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ReferencedSubjects(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, a := range s.appointments {
		if a.SubjectID != "" {
			seen[a.SubjectID] = struct{}{}
		}
	}
	for _, l := range s.legacy {
		for _, ref := range l.SubjectRefs() {
			seen[ref] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) MigrateLegacyAppointment(_ context.Context, legacyID string, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	l, ok := s.legacy[legacyID]
	if !ok {
		return fmt.Errorf("legacy appointment %s: %w", legacyID, ErrNotFound)
	}
	if _, ok := s.cases[appt.SubjectID]; !ok {
		return fmt.Errorf("case %s: %w", appt.SubjectID, ErrNotFound)
	}
	if _, exists := s.appointments[appt.ID]; !exists {
		now := s.now()
		if appt.CreatedAt.IsZero() {
			appt.CreatedAt = now
		}
		appt.UpdatedAt = now
		cp := *appt
		s.appointments[appt.ID] = &cp
	}
	if err := s.linkLocked(appt.SubjectID, appt.ID); err != nil {
		return err
	}
	now := s.now()
	id := appt.ID
	l.MigratedTo = &id
	l.MigratedAt = &now
	return nil
}

func (s *MemoryStore) RelinkAppointment(_ context.Context, appointmentID string, category workflow.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	a, ok := s.appointments[appointmentID]
	if !ok {
		return fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	if _, ok := s.cases[a.SubjectID]; !ok {
		return fmt.Errorf("case %s: %w", a.SubjectID, ErrNotFound)
	}
	if a.Category != category {
		a.Category = category
		a.UpdatedAt = s.now()
	}
	return s.linkLocked(a.SubjectID, a.ID)
}

func (s *MemoryStore) StartRun(_ context.Context, trigger string, dryRun bool) (*models.ReconciliationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trigger == "" {
		trigger = "unknown"
	}
	run := &models.ReconciliationRun{
		ID:            uint(len(s.runs) + 1),
		TriggerSource: trigger,
		Status:        models.ReconciliationRunStatusRunning,
		DryRun:        dryRun,
		StartedAt:     s.now(),
	}
	cp := *run
	s.runs = append(s.runs, &cp)
	return run, nil
}

func (s *MemoryStore) FinishRun(_ context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == 0 || int(run.ID) > len(s.runs) {
		return fmt.Errorf("reconciliation run %d: %w", run.ID, ErrNotFound)
	}
	if run.FinishedAt == nil {
		now := s.now()
		run.FinishedAt = &now
	}
	cp := *run
	s.runs[run.ID-1] = &cp
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]models.ReconciliationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]models.ReconciliationRun, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.runs[i])
	}
	return out, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreateAt.IsZero() {
		n.CreateAt = s.now()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationsRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.UserID == userID && (id == "" || n.NotificationID == id) {
			n.IsRead = true
		}
	}
	return nil
}

func (s *MemoryStore) TryLock(_ context.Context, name string) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[name]; held {
		return nil, fmt.Errorf("%s: %w", name, ErrLockHeld)
	}
	s.locks[name] = struct{}{}
	var once sync.Once
	return func() error {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, name)
			s.mu.Unlock()
		})
		return nil
	}, nil
}
