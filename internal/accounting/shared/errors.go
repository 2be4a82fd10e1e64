package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition indicates a state change outside the allowed graph or a failed guard.
	ErrInvalidTransition = errors.New("accounting: invalid status transition")
	// ErrUnbalancedEntry indicates debit != credit.
	ErrUnbalancedEntry = errors.New("accounting: journal lines must balance")
	// ErrInsufficientLines indicates less than two lines.
	ErrInsufficientLines = errors.New("accounting: journal requires at least two lines")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrKeyConflict indicates an idempotency key reused for a different request.
	ErrKeyConflict = errors.New("accounting: idempotency key conflict")
	// ErrKeyInFlight indicates the original request for a key has not completed.
	ErrKeyInFlight = errors.New("accounting: idempotency key in flight")
	// ErrNotFound indicates a missing entity or one outside the caller's company.
	ErrNotFound = errors.New("accounting: not found")
	// ErrSourceAlreadyLinked indicates a source document already produced an entry.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: cannot transition from %s to %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NewTransitionError builds a TransitionError.
func NewTransitionError(entity, from, to, reason string) error {
	return &TransitionError{Entity: entity, From: from, To: to, Reason: reason}
}

// ValidationError carries field level reasons. Kind defaults to ErrValidation.
type ValidationError struct {
	Kind    error
	Reasons []string
}

func (e *ValidationError) Error() string {
	kind := e.kind()
	if len(e.Reasons) == 0 {
		return kind.Error()
	}
	return kind.Error() + ": " + strings.Join(e.Reasons, "; ")
}

func (e *ValidationError) Unwrap() error { return e.kind() }

func (e *ValidationError) kind() error {
	if e.Kind == nil {
		return ErrValidation
	}
	return e.Kind
}

// Invalid returns a ValidationError of kind ErrValidation.
func Invalid(reasons ...string) error {
	return &ValidationError{Reasons: reasons}
}
