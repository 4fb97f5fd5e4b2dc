package controllers

import (
	"errors"
	"net/http"

	"donation-workflow-api/repository"
	"donation-workflow-api/services"
	"donation-workflow-api/workflow"

	"github.com/gin-gonic/gin"
)

type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
}

// classify maps a service error onto an HTTP status, a stable error code and
// a message the caller can act on.
func classify(err error) apiError {
	var (
		unknown     *workflow.UnknownStatusError
		transition  *workflow.TransitionError
		notEligible *services.NotEligibleError
	)

	switch {
	case errors.As(err, &unknown):
		return apiError{http.StatusUnprocessableEntity, "unknown_status",
			"Status \"" + unknown.Raw + "\" is not recognised. Use one of the statuses listed at /api/v1/statuses/pipelines.", false}
	case errors.Is(err, workflow.ErrUnknownStatus):
		return apiError{http.StatusUnprocessableEntity, "unknown_status", "The stored or requested status is not recognised.", false}
	case errors.Is(err, workflow.ErrMissingJustification):
		return apiError{http.StatusBadRequest, "missing_justification", "Overrides need a justification. Add a comment explaining the override.", false}
	case errors.Is(err, workflow.ErrUnauthorizedActor):
		msg := "Your role cannot make this decision at the current stage."
		if errors.As(err, &transition) && transition.Detail != "" {
			msg = "Your role cannot make this decision: " + transition.Detail + "."
		}
		return apiError{http.StatusForbidden, "unauthorized_actor", msg, false}
	case errors.Is(err, workflow.ErrIllegalTransition):
		msg := "This decision is not allowed from the case's current status."
		if errors.As(err, &transition) && transition.From != "" {
			msg = "Decision \"" + string(transition.Decision) + "\" is not allowed while the case is " + string(transition.From) + "."
		}
		return apiError{http.StatusConflict, "illegal_transition", msg, false}
	case errors.Is(err, workflow.ErrStaleState):
		return apiError{http.StatusConflict, "stale_state", "The case changed since you loaded it. Reload and try again.", true}
	case errors.Is(err, workflow.ErrPersist):
		return apiError{http.StatusServiceUnavailable, "persist_failed", "The decision could not be saved. Nothing was changed; try again shortly.", true}
	case errors.Is(err, repository.ErrNotFound):
		return apiError{http.StatusNotFound, "not_found", "The requested record does not exist.", false}
	case errors.As(err, &notEligible):
		return apiError{http.StatusConflict, "not_eligible", "Appointments cannot be scheduled: " + notEligible.Reason + ".", false}
	case errors.Is(err, services.ErrSweepAlreadyRunning):
		return apiError{http.StatusConflict, "sweep_running", "A reconciliation sweep is already running. Check the run history.", true}
	case errors.Is(err, services.ErrForbidden):
		return apiError{http.StatusForbidden, "forbidden", "You do not have permission for this action.", false}
	case errors.Is(err, services.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "invalid_input", err.Error(), false}
	}
	return apiError{http.StatusInternalServerError, "internal_error", "Something went wrong. Try again later.", false}
}

func respondError(c *gin.Context, err error) {
	e := classify(err)
	body := gin.H{"error": e.code, "message": e.message}
	if e.retryable {
		body["retryable"] = true
	}
	if e.status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(e.status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": message})
}
