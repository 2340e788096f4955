package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotFound            = errors.New("not found")
	ErrGameNotFound        = fmt.Errorf("game %w", ErrNotFound)
	ErrTeamNotFound        = fmt.Errorf("team %w", ErrNotFound)
	ErrSeasonNotFound      = fmt.Errorf("season %w", ErrNotFound)
	ErrPlayerNotFound      = fmt.Errorf("player %w", ErrNotFound)
	ErrEventNotFound       = fmt.Errorf("event %w", ErrNotFound)
	ErrActionNotFound      = fmt.Errorf("action %w", ErrNotFound)
	ErrGameExists          = errors.New("game already exists")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrPlayerNotActive     = errors.New("player not active")
	ErrPlayerAlreadyActive = errors.New("player already active")
	ErrCapNumberInUse      = errors.New("cap number already in use")
	ErrUnknownPlayer       = errors.New("no player with that cap number on this side")
	ErrNoTimeoutsRemaining = errors.New("no timeouts remaining")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternalError       = errors.New("internal server error")
)

// TransitionError reports which precondition rejected a session operation.
type TransitionError struct {
	Op     string
	From   GameStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s: %s", e.Op, e.From, e.Reason)
}

// Unwrap lets callers match any TransitionError with errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError builds a TransitionError for op rejected in state from.
func NewTransitionError(op string, from GameStatus, reason string) error {
	return &TransitionError{Op: op, From: from, Reason: reason}
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError reports errors caused by the session being in the wrong state
// for the requested operation.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrGameExists) ||
		errors.Is(err, ErrPlayerNotActive) ||
		errors.Is(err, ErrPlayerAlreadyActive) ||
		errors.Is(err, ErrCapNumberInUse) ||
		errors.Is(err, ErrNoTimeoutsRemaining)
}
