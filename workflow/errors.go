package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStatus        = errors.New("unknown status")
	ErrIllegalTransition    = errors.New("illegal transition")
	ErrUnauthorizedActor    = errors.New("unauthorized actor")
	ErrMissingJustification = errors.New("missing justification")
	ErrStaleState           = errors.New("stale state")
	ErrPersist              = errors.New("persist failed")
	ErrReplayMismatch       = errors.New("history does not replay")
)

// TransitionError describes a rejected transition attempt.
type TransitionError struct {
	Err      error
	From     Status
	Decision Decision
	Role     Role
	Detail   string
}

func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%v: %s by %s from %q", e.Err, e.Decision, e.Role, e.From)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UnknownStatusError reports a raw status string that the registry could not
// resolve.
type UnknownStatusError struct {
	Raw  string
	Role Role
}

func (e *UnknownStatusError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("unknown %s status %q", e.Role, e.Raw)
	}
	return fmt.Sprintf("unknown status %q", e.Raw)
}

func (e *UnknownStatusError) Unwrap() error { return ErrUnknownStatus }
