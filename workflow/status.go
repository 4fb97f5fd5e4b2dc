// Package workflow holds the approval state machine for donation cases: the
// canonical status set, the transition table, eligibility rules and history
// replay. Nothing in this package performs I/O.
package workflow

import (
	"fmt"
	"strings"
)

// Status is a canonical case status. Values are stored verbatim in the
// database; use ResolveStatus to turn any other spelling into one of these.
type Status string

const (
	StatusNone    Status = ""
	StatusPending Status = "pending"

	// Recipient pipeline.
	StatusDoctorApproved Status = "doctor_approved"
	StatusAdminApproved  Status = "admin_approved"
	StatusRejected       Status = "rejected"

	// Donor pipeline.
	StatusInitialDoctorApproved       Status = "initial_doctor_approved"
	StatusPendingInitialAdminApproval Status = "pending_initial_admin_approval"
	StatusInitiallyApproved           Status = "initially_approved"
	StatusMedicalEvaluationInProgress Status = "medical_evaluation_in_progress"
	StatusMedicalEvaluationCompleted  Status = "medical_evaluation_completed"
	StatusPendingFinalAdminReview     Status = "pending_final_admin_review"
	StatusFinalAdminApproved          Status = "final_admin_approved"
	StatusInitialDoctorRejected       Status = "initial_doctor_rejected"
	StatusInitialAdminRejected        Status = "initial_admin_rejected"
	StatusFinalAdminRejected          Status = "final_admin_rejected"
)

func (s Status) String() string { return string(s) }

// Role identifies either the subject of a case (donor, recipient) or the
// actor making a decision (doctor, admin).
type Role string

const (
	RoleDonor     Role = "donor"
	RoleRecipient Role = "recipient"
	RoleDoctor    Role = "doctor"
	RoleAdmin     Role = "admin"
)

// ParseRole normalises a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleDonor:
		return RoleDonor, nil
	case RoleRecipient:
		return RoleRecipient, nil
	case RoleDoctor:
		return RoleDoctor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// IsSubject reports whether r can own a case.
func (r Role) IsSubject() bool { return r == RoleDonor || r == RoleRecipient }

// IsReviewer reports whether r can decide on a case.
func (r Role) IsReviewer() bool { return r == RoleDoctor || r == RoleAdmin }

// Decision is the action an actor takes on a case.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionOverride Decision = "override"
)

// ParseDecision normalises a decision name. "agree"/"disagree" are accepted
// for older clients.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve", "approved", "agree":
		return DecisionApprove, nil
	case "reject", "rejected", "disagree":
		return DecisionReject, nil
	case "override":
		return DecisionOverride, nil
	}
	return "", fmt.Errorf("unknown decision %q", raw)
}

// Review stages used as keys of the reviewedBy and comments maps.
const (
	StageDoctorReview        = "doctor_review"
	StageAdminReview         = "admin_review"
	StageInitialDoctorReview = "initial_doctor_review"
	StageDoctorSignOff       = "doctor_sign_off"
	StageInitialAdminReview  = "initial_admin_review"
	StageMedicalEvaluation   = "medical_evaluation"
	StageFinalAdminReview    = "final_admin_review"
	StageClosed              = "closed"
	StageOverride            = "override"
)

var recipientPipeline = []Status{
	StatusPending,
	StatusDoctorApproved,
	StatusAdminApproved,
	StatusRejected,
}

var donorPipeline = []Status{
	StatusPending,
	StatusInitialDoctorApproved,
	StatusPendingInitialAdminApproval,
	StatusInitiallyApproved,
	StatusMedicalEvaluationInProgress,
	StatusMedicalEvaluationCompleted,
	StatusPendingFinalAdminReview,
	StatusFinalAdminApproved,
	StatusInitialDoctorRejected,
	StatusInitialAdminRejected,
	StatusFinalAdminRejected,
}

var stageByStatus = map[Status]string{
	StatusDoctorApproved:              StageAdminReview,
	StatusInitialDoctorApproved:       StageDoctorSignOff,
	StatusPendingInitialAdminApproval: StageInitialAdminReview,
	StatusInitiallyApproved:           StageMedicalEvaluation,
	StatusMedicalEvaluationInProgress: StageMedicalEvaluation,
	StatusMedicalEvaluationCompleted:  StageMedicalEvaluation,
	StatusPendingFinalAdminReview:     StageFinalAdminReview,
}

// Pipeline returns the statuses a case owned by role can take, in pipeline
// order with terminal rejections last.
func Pipeline(role Role) []Status {
	var src []Status
	switch role {
	case RoleRecipient:
		src = recipientPipeline
	case RoleDonor:
		src = donorPipeline
	default:
		return nil
	}
	out := make([]Status, len(src))
	copy(out, src)
	return out
}

// InPipeline reports whether s belongs to the pipeline of role.
func InPipeline(role Role, s Status) bool {
	for _, candidate := range Pipeline(role) {
		if candidate == s {
			return true
		}
	}
	return false
}

// Stage names the review stage a case sitting at s is in, for a subject of the
// given role.
func Stage(role Role, s Status) string {
	if s == StatusPending {
		if role == RoleDonor {
			return StageInitialDoctorReview
		}
		return StageDoctorReview
	}
	if IsTerminal(s) {
		return StageClosed
	}
	if stage, ok := stageByStatus[s]; ok {
		return stage
	}
	return ""
}

// IsTerminal reports whether no regular decision can move a case out of s.
func IsTerminal(s Status) bool {
	switch s {
	case StatusAdminApproved, StatusRejected,
		StatusFinalAdminApproved, StatusInitialDoctorRejected,
		StatusInitialAdminRejected, StatusFinalAdminRejected:
		return true
	}
	return false
}

// IsApprovedTerminal reports whether s is a terminal approval. Such states are
// never left, not even by override.
func IsApprovedTerminal(s Status) bool {
	return s == StatusAdminApproved || s == StatusFinalAdminApproved
}
