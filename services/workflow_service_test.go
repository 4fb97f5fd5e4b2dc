package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"
	"donation-workflow-api/workflow"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []StatusChangedEvent
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(_ context.Context, ev StatusChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) snapshot() []StatusChangedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]StatusChangedEvent{}, n.events...)
}

var (
	doctor = Actor{UserID: "doc-1", Role: workflow.RoleDoctor}
	admin  = Actor{UserID: "admin-1", Role: workflow.RoleAdmin}
)

func newTestWorkflow(t *testing.T) (*WorkflowService, *repository.MemoryStore, *recordingNotifier, *Metrics) {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	metrics := NewMetrics()
	svc := NewWorkflowService(store, workflow.NewRegistry(), notifier, metrics, nil, WorkflowOptions{CommitRetries: 3, RetryBackoff: time.Millisecond})
	return svc, store, notifier, metrics
}

func openCase(t *testing.T, svc *WorkflowService, role workflow.Role, userID string) *models.DonationCase {
	t.Helper()
	c, err := svc.CreateCase(context.Background(), Actor{UserID: userID, Role: role}, CreateCaseInput{ContactEmail: userID + "@example.org"})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return c
}

func decide(t *testing.T, svc *WorkflowService, caseID string, actor Actor, decision, comment string) *DecisionResult {
	t.Helper()
	res, err := svc.SubmitDecision(context.Background(), DecisionInput{CaseID: caseID, Actor: actor, Decision: decision, Comment: comment})
	if err != nil {
		t.Fatalf("SubmitDecision(%s by %s): %v", decision, actor.Role, err)
	}
	return res
}

func TestDonorPipelineEndToEnd(t *testing.T) {
	svc, _, notifier, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleDonor, "donor-1")

	steps := []struct {
		actor Actor
		want  workflow.Status
	}{
		{doctor, workflow.StatusInitialDoctorApproved},
		{doctor, workflow.StatusPendingInitialAdminApproval},
		{admin, workflow.StatusInitiallyApproved},
		{doctor, workflow.StatusMedicalEvaluationInProgress},
		{doctor, workflow.StatusMedicalEvaluationCompleted},
		{doctor, workflow.StatusPendingFinalAdminReview},
		{admin, workflow.StatusFinalAdminApproved},
	}
	for _, step := range steps {
		res := decide(t, svc, c.ID, step.actor, "approve", "")
		if res.Case.Status != step.want {
			t.Fatalf("status = %q, want %q", res.Case.Status, step.want)
		}
	}

	report, err := svc.VerifyReplay(context.Background(), c.ID)
	if err != nil || !report.Consistent || report.Records != len(steps)+1 {
		t.Fatalf("replay report %+v, %v", report, err)
	}
	if got := len(notifier.snapshot()); got != len(steps)+1 {
		t.Fatalf("expected one event per transition plus creation, got %d", got)
	}

	elig, err := svc.Eligibility(context.Background(), Actor{UserID: "donor-1", Role: workflow.RoleDonor}, c.ID)
	if err != nil || !elig.Eligible || elig.Reason != "" {
		t.Fatalf("final approved donor should be eligible: %+v, %v", elig, err)
	}
}

func TestRecipientRejectRecordsComment(t *testing.T) {
	svc, _, notifier, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")

	res := decide(t, svc, c.ID, doctor, "reject", "incompatible blood type")
	if res.Case.Status != workflow.StatusRejected {
		t.Fatalf("status = %q", res.Case.Status)
	}
	if res.Case.CommentsMap()[workflow.StageDoctorReview] != "incompatible blood type" {
		t.Fatalf("comment not stored: %v", res.Case.CommentsMap())
	}
	events := notifier.snapshot()
	last := events[len(events)-1]
	if last.To != workflow.StatusRejected || last.ContactEmail != "rec-1@example.org" || last.Comment == "" {
		t.Fatalf("unexpected event %+v", last)
	}

	_, err := svc.SubmitDecision(context.Background(), DecisionInput{CaseID: c.ID, Actor: admin, Decision: "approve"})
	if !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("approving a rejected case should be illegal, got %v", err)
	}
}

func TestSubmitDecisionErrorsLeaveCaseUntouched(t *testing.T) {
	svc, store, _, metrics := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleDonor, "donor-1")

	cases := []struct {
		name string
		in   DecisionInput
		want error
	}{
		{"admin skips doctor", DecisionInput{Actor: admin, Decision: "approve"}, workflow.ErrUnauthorizedActor},
		{"donor approves self", DecisionInput{Actor: Actor{UserID: "donor-1", Role: workflow.RoleDonor}, Decision: "approve"}, workflow.ErrUnauthorizedActor},
		{"override without reason", DecisionInput{Actor: admin, Decision: "override", Target: "initially_approved"}, workflow.ErrMissingJustification},
		{"doctor override", DecisionInput{Actor: doctor, Decision: "override", Comment: "x", Target: "initially_approved"}, workflow.ErrUnauthorizedActor},
		{"unknown target", DecisionInput{Actor: admin, Decision: "override", Comment: "x", Target: "teleported"}, workflow.ErrUnknownStatus},
		{"unknown decision", DecisionInput{Actor: doctor, Decision: "maybe"}, workflow.ErrIllegalTransition},
		{"stale expectation", DecisionInput{Actor: doctor, Decision: "approve", ExpectedStatus: "initial-doctor-approved"}, workflow.ErrStaleState},
	}
	for _, tc := range cases {
		tc.in.CaseID = c.ID
		if _, err := svc.SubmitDecision(context.Background(), tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	history, _ := store.History(context.Background(), c.ID)
	if len(history) != 1 {
		t.Fatalf("refused decisions must not write history, got %d records", len(history))
	}
	if got := counterValue(t, metrics, "donation_transitions_total", map[string]string{"role": "donor", "decision": "approve", "outcome": "unauthorized"}); got != 2 {
		t.Fatalf("unauthorized counter = %v, want 2", got)
	}

	if _, err := svc.SubmitDecision(context.Background(), DecisionInput{CaseID: "missing", Actor: doctor, Decision: "approve"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOverrideIsLoggedWithJustification(t *testing.T) {
	svc, store, _, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleDonor, "donor-1")

	res, err := svc.SubmitDecision(context.Background(), DecisionInput{
		CaseID:   c.ID,
		Actor:    admin,
		Decision: "override",
		Comment:  "urgent match, evaluation done externally",
		Target:   "Initially-Approved",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if res.Case.Status != workflow.StatusInitiallyApproved || !res.Record.Override {
		t.Fatalf("unexpected override result %+v", res.Record)
	}
	history, _ := store.History(context.Background(), c.ID)
	last := history[len(history)-1]
	if !last.Override || last.CommentText() == "" || last.Stage != workflow.StageOverride {
		t.Fatalf("override record incomplete: %+v", last)
	}
}

func TestSubmitDecisionRetriesPersistFailures(t *testing.T) {
	svc, store, _, metrics := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")

	store.FailNext = errors.New("connection reset")
	res := decide(t, svc, c.ID, doctor, "approve", "")
	if res.Case.Status != workflow.StatusDoctorApproved {
		t.Fatalf("status = %q", res.Case.Status)
	}
	if got := counterValue(t, metrics, "donation_commit_retries_total", nil); got != 1 {
		t.Fatalf("retry counter = %v, want 1", got)
	}
}

func TestSubmitDecisionSurfacesPersistErrorAfterRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore(), failures: 10}
	svc := NewWorkflowService(store, nil, nil, nil, nil, WorkflowOptions{CommitRetries: 3, RetryBackoff: time.Millisecond})
	c, err := svc.CreateCase(context.Background(), Actor{UserID: "rec-1", Role: workflow.RoleRecipient}, CreateCaseInput{})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	_, err = svc.SubmitDecision(context.Background(), DecisionInput{CaseID: c.ID, Actor: doctor, Decision: "approve"})
	if !errors.Is(err, workflow.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("commit attempts = %d, want 3", store.calls)
	}
	fresh, _ := store.GetCase(context.Background(), c.ID)
	if fresh.Status != workflow.StatusPending {
		t.Fatalf("failed commit changed status to %q", fresh.Status)
	}
}

type flakyStore struct {
	*repository.MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) CommitTransition(ctx context.Context, c *models.DonationCase, to workflow.Status, rec *models.TransitionRecord) (*models.TransitionRecord, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, &repository.PersistError{Op: "commit transition", Err: errors.New("timeout")}
	}
	return s.MemoryStore.CommitTransition(ctx, c, to, rec)
}

func TestDuplicateDecisionIsNoOp(t *testing.T) {
	svc, store, notifier, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")

	// Two clients read the case at pending and both approve.
	staleView, _ := store.GetCase(context.Background(), c.ID)
	decide(t, svc, c.ID, doctor, "approve", "")
	before := len(notifier.snapshot())

	rec := &models.TransitionRecord{ID: "client-retry", ActorID: "doc-1", ActorRole: workflow.RoleDoctor, Decision: "approve", Stage: workflow.StageDoctorReview}
	stored, err := store.CommitTransition(context.Background(), staleView, workflow.StatusDoctorApproved, rec)
	if err != nil {
		t.Fatalf("duplicate commit: %v", err)
	}
	if stored.ID == "client-retry" {
		t.Fatalf("duplicate commit wrote a new record")
	}
	if len(notifier.snapshot()) != before {
		t.Fatalf("duplicate commit must not emit events")
	}
}

func TestSecondReviewerOnSameEdgeIsStale(t *testing.T) {
	svc, store, notifier, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")

	staleView, _ := store.GetCase(context.Background(), c.ID)
	decide(t, svc, c.ID, doctor, "approve", "")
	before := len(notifier.snapshot())

	rec := &models.TransitionRecord{ID: "doc-2-approve", ActorID: "doc-2", ActorRole: workflow.RoleDoctor, Decision: "approve", Stage: workflow.StageDoctorReview}
	_, err := store.CommitTransition(context.Background(), staleView, workflow.StatusDoctorApproved, rec)
	if !errors.Is(err, workflow.ErrStaleState) {
		t.Fatalf("second reviewer should see ErrStaleState, got %v", err)
	}
	got, _ := store.GetCase(context.Background(), c.ID)
	if got.ReviewedByMap()[workflow.StageDoctorReview] != "doc-1" {
		t.Fatalf("reviewedBy = %v, want doc-1", got.ReviewedByMap())
	}
	if len(notifier.snapshot()) != before {
		t.Fatalf("stale commit must not emit events")
	}
}

func TestCreateCaseRules(t *testing.T) {
	svc, store, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	if _, err := svc.CreateCase(ctx, doctor, CreateCaseInput{Role: "donor"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("doctor should not open cases, got %v", err)
	}
	if _, err := svc.CreateCase(ctx, Actor{UserID: "d", Role: workflow.RoleDonor}, CreateCaseInput{Role: "recipient"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("donor opening recipient case should be forbidden, got %v", err)
	}
	if _, err := svc.CreateCase(ctx, admin, CreateCaseInput{Role: "donor"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("admin must name the subject, got %v", err)
	}
	c, err := svc.CreateCase(ctx, admin, CreateCaseInput{Role: "recipient", SubjectUserID: "rec-9"})
	if err != nil {
		t.Fatalf("admin CreateCase: %v", err)
	}
	history, _ := store.History(ctx, c.ID)
	if len(history) != 1 || history[0].FromStatus != workflow.StatusNone || history[0].ToStatus != workflow.StatusPending {
		t.Fatalf("creation record missing: %+v", history)
	}
}

func TestCaseVisibility(t *testing.T) {
	svc, _, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	mine := openCase(t, svc, workflow.RoleDonor, "donor-1")
	openCase(t, svc, workflow.RoleDonor, "donor-2")

	owner := Actor{UserID: "donor-1", Role: workflow.RoleDonor}
	stranger := Actor{UserID: "donor-2", Role: workflow.RoleDonor}

	if _, err := svc.GetCase(ctx, owner, mine.ID); err != nil {
		t.Fatalf("owner GetCase: %v", err)
	}
	if _, err := svc.GetCase(ctx, stranger, mine.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("stranger should not see the case, got %v", err)
	}

	list, err := svc.ListCases(ctx, owner, ListCasesInput{})
	if err != nil || len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("owner list = %v, %v", list, err)
	}
	all, err := svc.ListCases(ctx, doctor, ListCasesInput{Status: "Pending"})
	if err != nil || len(all) != 2 {
		t.Fatalf("doctor list = %d cases, %v", len(all), err)
	}
	if _, err := svc.ListCases(ctx, doctor, ListCasesInput{Status: "teleported"}); !errors.Is(err, workflow.ErrUnknownStatus) {
		t.Fatalf("expected unknown status, got %v", err)
	}
}

func TestEligibilityReasonForPendingDonor(t *testing.T) {
	svc, _, _, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleDonor, "donor-1")

	res, err := svc.Eligibility(context.Background(), doctor, c.ID)
	if err != nil {
		t.Fatalf("Eligibility: %v", err)
	}
	if res.Eligible || !strings.Contains(res.Reason, "initial review") {
		t.Fatalf("unexpected eligibility %+v", res)
	}
}

func TestNotificationFailureDoesNotFailDecision(t *testing.T) {
	svc, _, notifier, _ := newTestWorkflow(t)
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")
	notifier.err = errors.New("smtp down")

	res := decide(t, svc, c.ID, doctor, "approve", "")
	if res.Case.Status != workflow.StatusDoctorApproved {
		t.Fatalf("status = %q", res.Case.Status)
	}
}

func TestVerifyAllReplaysPagesThroughCases(t *testing.T) {
	svc, _, _, _ := newTestWorkflow(t)
	for _, id := range []string{"donor-1", "donor-2", "donor-3"} {
		openCase(t, svc, workflow.RoleDonor, id)
	}
	c := openCase(t, svc, workflow.RoleRecipient, "rec-1")
	decide(t, svc, c.ID, doctor, "approve", "")

	checked, problems, err := svc.VerifyAllReplays(context.Background(), 2)
	if err != nil {
		t.Fatalf("VerifyAllReplays: %v", err)
	}
	if checked != 4 || len(problems) != 0 {
		t.Fatalf("checked=%d problems=%v", checked, problems)
	}
}

type blockingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *blockingNotifier) Notify(ctx context.Context, ev StatusChangedEvent) error {
	<-n.release
	return n.recordingNotifier.Notify(ctx, ev)
}

func TestDrainNotificationsWaitsForAsyncSends(t *testing.T) {
	store := repository.NewMemoryStore()
	notifier := &blockingNotifier{release: make(chan struct{})}
	svc := NewWorkflowService(store, workflow.NewRegistry(), notifier, NewMetrics(), nil, WorkflowOptions{CommitRetries: 1, AsyncNotify: true})

	c, err := svc.CreateCase(context.Background(), Actor{UserID: "rec-1", Role: workflow.RoleRecipient}, CreateCaseInput{})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	decide(t, svc, c.ID, doctor, "approve", "")

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.DrainNotifications(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("drain with a blocked send: got %v, want deadline exceeded", err)
	}

	close(notifier.release)
	if err := svc.DrainNotifications(context.Background()); err != nil {
		t.Fatalf("DrainNotifications: %v", err)
	}
	delivered := false
	for _, ev := range notifier.snapshot() {
		if ev.To == workflow.StatusDoctorApproved {
			delivered = true
		}
	}
	if !delivered {
		t.Fatalf("async event not delivered before drain returned: %+v", notifier.snapshot())
	}
}
