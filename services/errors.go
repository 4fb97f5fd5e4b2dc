package services

import (
	"errors"
	"fmt"

	"donation-workflow-api/workflow"
)

var (
	ErrNotEligible         = errors.New("not eligible for appointment")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSweepAlreadyRunning = errors.New("reconciliation sweep already running")
)

// Actor is the verified identity performing an operation.
type Actor struct {
	UserID string
	Role   workflow.Role
}

// NotEligibleError carries the human-readable reason a case cannot be
// scheduled.
type NotEligibleError struct {
	CaseID string
	Reason string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("case %s: %s", e.CaseID, e.Reason)
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
