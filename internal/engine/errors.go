package engine

import (
	"errors"
	"fmt"

	"demandline/internal/domain"
	"demandline/internal/identity"
	"demandline/internal/repo"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrUnknownIdentity   = identity.ErrUnknownIdentity
	ErrNotFound          = repo.ErrNotFound
)

// ValidationError reports malformed creation input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// TransitionError reports an action the state machine does not allow
// from the demand's current status.
type TransitionError struct {
	DemandID int64
	From     domain.Status
	Action   domain.Action
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot mark demand %d %s while %s", e.DemandID, e.Action, e.From)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

// AuthorizationError reports an actor lacking the right to act.
type AuthorizationError struct {
	ActorID string
	Action  domain.Action
	Reason  string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s not authorized to mark demand %s: %s", e.ActorID, e.Action, e.Reason)
}

func (e AuthorizationError) Unwrap() error { return ErrNotAuthorized }

// Reason classifies err into a short stable code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrUnknownIdentity):
		return "unknown_identity"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
