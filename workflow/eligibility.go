package workflow

var donorEligible = map[Status]bool{
	StatusInitiallyApproved:           true,
	StatusMedicalEvaluationInProgress: true,
	StatusMedicalEvaluationCompleted:  true,
	StatusFinalAdminApproved:          true,
}

// IsEligibleForAppointment reports whether a case at state can be scheduled
// for an appointment or evaluation.
func IsEligibleForAppointment(state CaseState) bool {
	status, err := ResolveStatusFor(state.Role, state.Status)
	if err != nil {
		return false
	}
	switch state.Role {
	case RoleDonor:
		return donorEligible[status]
	case RoleRecipient:
		return status == StatusAdminApproved
	}
	return false
}

var ineligibilityReasons = map[Role]map[Status]string{
	RoleDonor: {
		StatusPending:                     "This application is still under initial review and cannot yet be scheduled.",
		StatusInitialDoctorApproved:       "A doctor has reviewed this application; it is waiting to be forwarded for admin approval.",
		StatusPendingInitialAdminApproval: "This application is awaiting initial admin approval and cannot yet be scheduled.",
		StatusPendingFinalAdminReview:     "The medical evaluation is complete and awaiting final admin review; no further appointments can be scheduled until it is decided.",
		StatusInitialDoctorRejected:       "This application was not approved during the initial doctor review.",
		StatusInitialAdminRejected:        "This application was not approved during initial admin review.",
		StatusFinalAdminRejected:          "This application was not approved at final admin review.",
	},
	RoleRecipient: {
		StatusPending:        "This request is still awaiting doctor review and cannot yet be scheduled.",
		StatusDoctorApproved: "A doctor approved this request; it is awaiting admin approval before scheduling.",
		StatusRejected:       "This request was not approved and cannot be scheduled.",
	},
}

// IneligibilityReason explains why a case cannot be scheduled. It returns an
// empty string for eligible cases.
func IneligibilityReason(state CaseState) string {
	if !state.Role.IsSubject() {
		return "This case is not linked to a donor or recipient."
	}
	status, err := ResolveStatusFor(state.Role, state.Status)
	if err != nil {
		return "This application has an unrecognised status; please contact an administrator."
	}
	if IsEligibleForAppointment(state) {
		return ""
	}
	if reason, ok := ineligibilityReasons[state.Role][status]; ok {
		return reason
	}
	return "This application cannot be scheduled in its current state."
}
