package workflow

import "strings"

// CaseState is the part of a case the engine looks at. Status is the raw
// stored value; it is resolved before any rule is applied.
type CaseState struct {
	Role   Role
	Status string
}

// Request is a decision an actor wants to apply to a case.
type Request struct {
	ActorRole Role
	Decision  Decision
	Comment   string
	// Target is the status an override moves the case to. Ignored otherwise.
	Target string
}

// Outcome is a validated transition, ready to be committed.
type Outcome struct {
	From     Status
	To       Status
	Decision Decision
	Override bool
	// Stage is the review stage the decision closes.
	Stage string
}

// Edge is one allowed (from, decision, actor) -> to step.
type Edge struct {
	From     Status   `json:"from"`
	Decision Decision `json:"decision"`
	Actor    Role     `json:"actor"`
	To       Status   `json:"to"`
}

var recipientEdges = []Edge{
	{StatusPending, DecisionApprove, RoleDoctor, StatusDoctorApproved},
	{StatusPending, DecisionReject, RoleDoctor, StatusRejected},
	{StatusDoctorApproved, DecisionApprove, RoleAdmin, StatusAdminApproved},
	{StatusDoctorApproved, DecisionReject, RoleAdmin, StatusRejected},
}

var donorEdges = []Edge{
	{StatusPending, DecisionApprove, RoleDoctor, StatusInitialDoctorApproved},
	{StatusPending, DecisionReject, RoleDoctor, StatusInitialDoctorRejected},
	{StatusInitialDoctorApproved, DecisionApprove, RoleDoctor, StatusPendingInitialAdminApproval},
	{StatusPendingInitialAdminApproval, DecisionApprove, RoleAdmin, StatusInitiallyApproved},
	{StatusPendingInitialAdminApproval, DecisionReject, RoleAdmin, StatusInitialAdminRejected},
	{StatusInitiallyApproved, DecisionApprove, RoleDoctor, StatusMedicalEvaluationInProgress},
	{StatusMedicalEvaluationInProgress, DecisionApprove, RoleDoctor, StatusMedicalEvaluationCompleted},
	{StatusMedicalEvaluationCompleted, DecisionApprove, RoleDoctor, StatusPendingFinalAdminReview},
	{StatusPendingFinalAdminReview, DecisionApprove, RoleAdmin, StatusFinalAdminApproved},
	{StatusPendingFinalAdminReview, DecisionReject, RoleAdmin, StatusFinalAdminRejected},
}

// Transitions returns the regular (non-override) edges for cases owned by role.
func Transitions(role Role) []Edge {
	var src []Edge
	switch role {
	case RoleRecipient:
		src = recipientEdges
	case RoleDonor:
		src = donorEdges
	default:
		return nil
	}
	out := make([]Edge, len(src))
	copy(out, src)
	return out
}

// AttemptTransition validates req against state using the built-in registry.
func AttemptTransition(state CaseState, req Request) (Outcome, error) {
	return builtin.AttemptTransition(state, req)
}

// AttemptTransition computes the status req leads to from state, or explains
// why it cannot be applied. It never mutates anything.
func (r *Registry) AttemptTransition(state CaseState, req Request) (Outcome, error) {
	fail := func(err error, from Status, detail string) (Outcome, error) {
		return Outcome{}, &TransitionError{
			Err:      err,
			From:     from,
			Decision: req.Decision,
			Role:     req.ActorRole,
			Detail:   detail,
		}
	}

	if !state.Role.IsSubject() {
		return fail(ErrIllegalTransition, StatusNone, "case has no donor/recipient role")
	}

	from, err := r.ResolveFor(state.Role, state.Status)
	if err != nil {
		return fail(ErrUnknownStatus, Status(state.Status), err.Error())
	}

	switch req.Decision {
	case DecisionOverride:
		if req.ActorRole != RoleAdmin {
			return fail(ErrUnauthorizedActor, from, "only admins can override")
		}
		if strings.TrimSpace(req.Comment) == "" {
			return fail(ErrMissingJustification, from, "override requires a justification")
		}
		to, err := r.ResolveFor(state.Role, req.Target)
		if err != nil {
			return fail(ErrUnknownStatus, from, err.Error())
		}
		if IsApprovedTerminal(from) {
			return fail(ErrIllegalTransition, from, "approved cases cannot be overridden")
		}
		if to == from {
			return fail(ErrIllegalTransition, from, "override target equals current status")
		}
		return Outcome{From: from, To: to, Decision: req.Decision, Override: true, Stage: StageOverride}, nil

	case DecisionApprove, DecisionReject:
		var authorized Role
		for _, e := range Transitions(state.Role) {
			if e.From != from || e.Decision != req.Decision {
				continue
			}
			if e.Actor != req.ActorRole {
				authorized = e.Actor
				continue
			}
			return Outcome{From: from, To: e.To, Decision: req.Decision, Stage: Stage(state.Role, from)}, nil
		}
		if authorized != "" {
			return fail(ErrUnauthorizedActor, from, "this step is decided by "+string(authorized))
		}
		return fail(ErrIllegalTransition, from, "")
	}

	return fail(ErrIllegalTransition, from, "unknown decision")
}
