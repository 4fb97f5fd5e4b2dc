package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"
	"donation-workflow-api/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WorkflowOptions struct {
	CommitRetries int
	RetryBackoff  time.Duration
	// AsyncNotify dispatches status change events on a goroutine.
	AsyncNotify bool
}

// WorkflowService owns case creation and decisions.
type WorkflowService struct {
	store    repository.CaseStore
	registry *workflow.Registry
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger
	opts     WorkflowOptions
	now      func() time.Time
	newID    func() string

	inflight sync.WaitGroup
}

func NewWorkflowService(store repository.CaseStore, registry *workflow.Registry, notifier Notifier, metrics *Metrics, logger *zap.Logger, opts WorkflowOptions) *WorkflowService {
	if registry == nil {
		registry = workflow.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CommitRetries < 1 {
		opts.CommitRetries = 1
	}
	return &WorkflowService{
		store:    store,
		registry: registry,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Registry returns the status registry decisions are resolved against.
func (s *WorkflowService) Registry() *workflow.Registry { return s.registry }

type CreateCaseInput struct {
	Role          string
	SubjectUserID string
	ContactEmail  string
}

// CreateCase opens a new case at pending. Donors and recipients open their
// own case; admins may open one on behalf of any subject.
func (s *WorkflowService) CreateCase(ctx context.Context, actor Actor, in CreateCaseInput) (*models.DonationCase, error) {
	role := actor.Role
	subject := actor.UserID
	switch {
	case actor.Role.IsSubject():
		if in.Role != "" {
			requested, err := workflow.ParseRole(in.Role)
			if err != nil || requested != actor.Role {
				return nil, fmt.Errorf("%w: a %s cannot open a %s case", ErrForbidden, actor.Role, in.Role)
			}
		}
	case actor.Role == workflow.RoleAdmin:
		parsed, err := workflow.ParseRole(in.Role)
		if err != nil || !parsed.IsSubject() {
			return nil, invalidInput("role must be donor or recipient")
		}
		if strings.TrimSpace(in.SubjectUserID) == "" {
			return nil, invalidInput("subject_user_id is required")
		}
		role = parsed
		subject = strings.TrimSpace(in.SubjectUserID)
	default:
		return nil, fmt.Errorf("%w: %s cannot open cases", ErrForbidden, actor.Role)
	}

	now := s.now()
	c := &models.DonationCase{
		ID:            s.newID(),
		SubjectRole:   role,
		SubjectUserID: subject,
		Status:        workflow.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if email := strings.TrimSpace(in.ContactEmail); email != "" {
		c.ContactEmail = &email
	}
	rec := &models.TransitionRecord{
		ID:         s.newID(),
		FromStatus: workflow.StatusNone,
		ToStatus:   workflow.StatusPending,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Decision:   models.DecisionSubmit,
		Timestamp:  now,
	}

	err := retryPersist(ctx, s.opts.CommitRetries, s.opts.RetryBackoff, s.onRetry(c.ID), func() error {
		return s.store.CreateCase(ctx, c, rec)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("case created",
		zap.String("case_id", c.ID),
		zap.String("subject_role", string(role)),
		zap.String("actor_id", actor.UserID))
	s.dispatch(ctx, eventFor(c, rec))
	return c, nil
}

func canView(actor Actor, c *models.DonationCase) bool {
	if actor.Role.IsReviewer() {
		return true
	}
	return actor.Role == c.SubjectRole && actor.UserID == c.SubjectUserID
}

func (s *WorkflowService) loadVisible(ctx context.Context, actor Actor, caseID string) (*models.DonationCase, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, c) {
		// Indistinguishable from a missing case for non-owners.
		return nil, fmt.Errorf("case %s: %w", caseID, repository.ErrNotFound)
	}
	return c, nil
}

func (s *WorkflowService) GetCase(ctx context.Context, actor Actor, caseID string) (*models.DonationCase, error) {
	return s.loadVisible(ctx, actor, caseID)
}

type ListCasesInput struct {
	Role   string
	Status string
	Limit  int
	Offset int
}

// ListCases lists cases visible to actor. Subjects only ever see their own.
// The status filter accepts any alias the registry knows.
func (s *WorkflowService) ListCases(ctx context.Context, actor Actor, in ListCasesInput) ([]models.DonationCase, error) {
	filter := repository.CaseFilter{Limit: in.Limit, Offset: in.Offset}
	if in.Role != "" {
		role, err := workflow.ParseRole(in.Role)
		if err != nil || !role.IsSubject() {
			return nil, invalidInput("role must be donor or recipient")
		}
		filter.Role = role
	}
	if actor.Role.IsSubject() {
		filter.Role = actor.Role
		filter.SubjectUserID = actor.UserID
	} else if !actor.Role.IsReviewer() {
		return nil, ErrForbidden
	}
	if in.Status != "" {
		var (
			status workflow.Status
			err    error
		)
		if filter.Role != "" {
			status, err = s.registry.ResolveFor(filter.Role, in.Status)
		} else {
			status, err = s.registry.Resolve(in.Status)
		}
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	return s.store.ListCases(ctx, filter)
}

func (s *WorkflowService) History(ctx context.Context, actor Actor, caseID string) ([]models.TransitionRecord, error) {
	if _, err := s.loadVisible(ctx, actor, caseID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, caseID)
}

type ReplayReport struct {
	CaseID     string          `json:"case_id"`
	Stored     workflow.Status `json:"stored_status"`
	Replayed   workflow.Status `json:"replayed_status"`
	Records    int             `json:"records"`
	Consistent bool            `json:"consistent"`
	Problem    string          `json:"problem,omitempty"`
}

// VerifyReplay folds the case history from the empty state and compares the
// result with the stored status.
func (s *WorkflowService) VerifyReplay(ctx context.Context, caseID string) (*ReplayReport, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.History(ctx, caseID)
	if err != nil {
		return nil, err
	}
	report := &ReplayReport{CaseID: caseID, Stored: c.Status, Records: len(records)}
	replayed, err := workflow.Replay(models.Steps(records))
	report.Replayed = replayed
	switch {
	case err != nil:
		report.Problem = err.Error()
	case replayed != c.Status:
		report.Problem = fmt.Sprintf("history ends at %q but case is %q", replayed, c.Status)
	default:
		report.Consistent = true
	}
	return report, nil
}

// VerifyAllReplays runs VerifyReplay over every case, pageSize cases at a
// time, and returns the reports that do not replay cleanly.
func (s *WorkflowService) VerifyAllReplays(ctx context.Context, pageSize int) (checked int, problems []ReplayReport, err error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	for offset := 0; ; offset += pageSize {
		page, err := s.store.ListCases(ctx, repository.CaseFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return checked, problems, err
		}
		for _, c := range page {
			report, err := s.VerifyReplay(ctx, c.ID)
			if err != nil {
				return checked, problems, err
			}
			checked++
			if !report.Consistent {
				problems = append(problems, *report)
			}
		}
		if len(page) < pageSize {
			return checked, problems, nil
		}
	}
}

type EligibilityResult struct {
	CaseID   string          `json:"case_id"`
	Status   workflow.Status `json:"status"`
	Eligible bool            `json:"eligible"`
	Reason   string          `json:"reason,omitempty"`
}

func (s *WorkflowService) Eligibility(ctx context.Context, actor Actor, caseID string) (*EligibilityResult, error) {
	c, err := s.loadVisible(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	state := c.State()
	return &EligibilityResult{
		CaseID:   c.ID,
		Status:   c.Status,
		Eligible: workflow.IsEligibleForAppointment(state),
		Reason:   workflow.IneligibilityReason(state),
	}, nil
}

type DecisionInput struct {
	CaseID   string
	Actor    Actor
	Decision string
	Comment  string
	// Target is the override destination.
	Target string
	// ExpectedStatus, when set, is the status the client last saw. A case
	// that has moved on since fails with ErrStaleState.
	ExpectedStatus string
}

type DecisionResult struct {
	Case    *models.DonationCase     `json:"case"`
	Record  *models.TransitionRecord `json:"record"`
	Outcome workflow.Outcome         `json:"-"`
	// Duplicate is true when the same transition had already been committed.
	Duplicate bool `json:"duplicate"`
}

// SubmitDecision validates a decision against the case's current state and
// commits the resulting transition.
func (s *WorkflowService) SubmitDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error) {
	c, err := s.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}
	role := string(c.SubjectRole)

	decision, err := workflow.ParseDecision(in.Decision)
	if err != nil {
		s.metrics.observeTransition(role, "unknown", "illegal")
		return nil, &workflow.TransitionError{
			Err:      workflow.ErrIllegalTransition,
			From:     c.Status,
			Decision: workflow.Decision(in.Decision),
			Role:     in.Actor.Role,
			Detail:   err.Error(),
		}
	}

	if strings.TrimSpace(in.ExpectedStatus) != "" {
		expected, err := s.registry.ResolveFor(c.SubjectRole, in.ExpectedStatus)
		if err != nil {
			s.metrics.observeTransition(role, string(decision), outcomeLabel(err))
			return nil, err
		}
		current, err := s.registry.ResolveFor(c.SubjectRole, string(c.Status))
		if err != nil {
			s.metrics.observeTransition(role, string(decision), outcomeLabel(err))
			return nil, err
		}
		if expected != current {
			s.metrics.observeTransition(role, string(decision), "stale")
			return nil, fmt.Errorf("%w: case %s is %q, client expected %q", workflow.ErrStaleState, c.ID, current, expected)
		}
	}

	outcome, err := s.registry.AttemptTransition(c.State(), workflow.Request{
		ActorRole: in.Actor.Role,
		Decision:  decision,
		Comment:   in.Comment,
		Target:    in.Target,
	})
	if err != nil {
		s.metrics.observeTransition(role, string(decision), outcomeLabel(err))
		s.logger.Info("decision refused",
			zap.String("case_id", c.ID),
			zap.String("actor_id", in.Actor.UserID),
			zap.String("decision", string(decision)),
			zap.Error(err))
		return nil, err
	}

	rec := &models.TransitionRecord{
		ID:        s.newID(),
		ActorID:   in.Actor.UserID,
		ActorRole: in.Actor.Role,
		Decision:  string(outcome.Decision),
		Override:  outcome.Override,
		Stage:     outcome.Stage,
		Timestamp: s.now(),
	}
	if comment := strings.TrimSpace(in.Comment); comment != "" {
		rec.Comment = &comment
	}

	from := c.Status
	started := time.Now()
	var stored *models.TransitionRecord
	err = retryPersist(ctx, s.opts.CommitRetries, s.opts.RetryBackoff, s.onRetry(c.ID), func() error {
		var commitErr error
		stored, commitErr = s.store.CommitTransition(ctx, c, outcome.To, rec)
		return commitErr
	})
	s.metrics.observeCommit(time.Since(started))
	if err != nil {
		s.metrics.observeTransition(role, string(decision), outcomeLabel(err))
		s.logger.Warn("transition commit failed",
			zap.String("case_id", c.ID),
			zap.String("from", string(from)),
			zap.String("to", string(outcome.To)),
			zap.Error(err))
		return nil, err
	}

	result := &DecisionResult{Case: c, Record: stored, Outcome: outcome, Duplicate: stored.ID != rec.ID}
	if result.Duplicate {
		s.metrics.observeTransition(role, string(decision), "duplicate")
		return result, nil
	}

	s.metrics.observeTransition(role, string(decision), "committed")
	s.logger.Info("case status changed",
		zap.String("case_id", c.ID),
		zap.String("from", string(from)),
		zap.String("to", string(outcome.To)),
		zap.String("actor_id", in.Actor.UserID),
		zap.String("actor_role", string(in.Actor.Role)),
		zap.Bool("override", outcome.Override))
	s.dispatch(ctx, eventFor(c, stored))
	return result, nil
}

func (s *WorkflowService) onRetry(caseID string) func(int, error) {
	return func(attempt int, err error) {
		s.metrics.observeRetry()
		s.logger.Warn("retrying case write",
			zap.String("case_id", caseID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

func (s *WorkflowService) dispatch(ctx context.Context, event StatusChangedEvent) {
	if s.notifier == nil {
		return
	}
	send := func() {
		if err := s.notifier.Notify(persistentContext(ctx), event); err != nil {
			s.logger.Warn("status change not fully delivered",
				zap.String("case_id", event.CaseID),
				zap.Error(err))
		}
	}
	if s.opts.AsyncNotify {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			send()
		}()
		return
	}
	send()
}

// DrainNotifications waits for in-flight async notifications. It returns
// ctx.Err() if ctx ends first.
func (s *WorkflowService) DrainNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventFor(c *models.DonationCase, rec *models.TransitionRecord) StatusChangedEvent {
	ev := StatusChangedEvent{
		CaseID:        c.ID,
		SubjectRole:   c.SubjectRole,
		SubjectUserID: c.SubjectUserID,
		From:          rec.FromStatus,
		To:            rec.ToStatus,
		ActorID:       rec.ActorID,
		ActorRole:     rec.ActorRole,
		Decision:      rec.Decision,
		Override:      rec.Override,
		Comment:       rec.CommentText(),
		At:            rec.Timestamp,
	}
	if c.ContactEmail != nil {
		ev.ContactEmail = *c.ContactEmail
	}
	return ev
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, workflow.ErrUnauthorizedActor):
		return "unauthorized"
	case errors.Is(err, workflow.ErrMissingJustification):
		return "missing_justification"
	case errors.Is(err, workflow.ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, workflow.ErrStaleState):
		return "stale"
	case errors.Is(err, workflow.ErrPersist):
		return "persist_error"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
