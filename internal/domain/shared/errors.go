// Package shared contains common domain types, errors, events, and value objects
// that are used across all progression domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the engine matches exactly one of these
// through errors.Is.
var (
	// ErrNotFound: unknown user, lesson, skill or challenge id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyCompleted: a benign duplicate of an action that already took effect.
	ErrAlreadyCompleted = errors.New("already completed")

	// ErrValidation: input rejected before any write.
	ErrValidation = errors.New("validation error")

	// ErrConflict: a concurrent writer won an optimistic race; retry the whole operation.
	ErrConflict = errors.New("concurrent modification")

	// ErrStore: the persistence layer failed.
	ErrStore = errors.New("store error")
)

// ErrTxAborted marks a conflict the store resolved by aborting the enclosing
// transaction (deadlock, serialization failure). It travels under ErrConflict.
// Retrying inside the aborted transaction cannot succeed; only a rerun of the
// whole operation can.
var ErrTxAborted = errors.New("transaction aborted")

// ErrorKind is the stable, wire-visible name of an error kind.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindAlreadyCompleted ErrorKind = "already_completed"
	KindValidation       ErrorKind = "validation_error"
	KindConflict         ErrorKind = "conflict_error"
	KindStore            ErrorKind = "store_error"
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "progression", "skill", "challenge"
	Op      string // operation that failed, e.g. "AwardXP"
	Kind    error  // one of the kind sentinels above
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validationf builds a validation error with a formatted message.
func Validationf(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// Progression domain errors
var (
	ErrProfileNotFound      = NewDomainError("progression", "Find", ErrNotFound, "profile not found")
	ErrNegativeXP           = NewDomainError("progression", "AwardXP", ErrValidation, "xp amount cannot be negative")
	ErrXPOverflow           = NewDomainError("progression", "AwardXP", ErrValidation, "xp total would exceed the maximum")
	ErrEmptySource          = NewDomainError("progression", "AwardXP", ErrValidation, "xp source is required")
	ErrProfileVersionStale  = NewDomainError("progression", "Save", ErrConflict, "profile was modified concurrently")
	ErrInvalidThresholds    = NewDomainError("progression", "LoadThresholds", ErrValidation, "invalid level threshold table")
	ErrInvalidUserID        = NewDomainError("progression", "Validate", ErrValidation, "invalid user id")
	ErrProfileAlreadyExists = NewDomainError("progression", "Register", ErrAlreadyCompleted, "profile already registered")
)

// Skill domain errors
var (
	ErrSkillNotFound         = NewDomainError("skill", "Find", ErrNotFound, "skill not found")
	ErrSkillLocked           = NewDomainError("skill", "Complete", ErrValidation, "skill is locked for this user")
	ErrSkillAlreadyCompleted = NewDomainError("skill", "Complete", ErrAlreadyCompleted, "skill already completed")
)

// Challenge domain errors
var (
	ErrChallengeNotFound         = NewDomainError("challenge", "Find", ErrNotFound, "challenge not found")
	ErrUnknownEventKind          = NewDomainError("challenge", "ApplyEvent", ErrValidation, "unrecognized event type")
	ErrInvalidIncrement          = NewDomainError("challenge", "ApplyEvent", ErrValidation, "increment must be positive")
	ErrChallengeClosed           = NewDomainError("challenge", "Join", ErrValidation, "challenge is not open")
	ErrChallengeProgressConflict = NewDomainError("challenge", "SaveProgress", ErrConflict, "challenge progress was modified concurrently")
)

// Lesson domain errors
var (
	ErrLessonNotFound         = NewDomainError("lesson", "Find", ErrNotFound, "lesson not found")
	ErrLessonInactive         = NewDomainError("lesson", "Complete", ErrValidation, "lesson is not active")
	ErrLessonAlreadyCompleted = NewDomainError("lesson", "Complete", ErrAlreadyCompleted, "lesson already completed")
	ErrNegativeTimeSpent      = NewDomainError("lesson", "Complete", ErrValidation, "time spent cannot be negative")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyCompleted checks if the error is a benign duplicate.
func IsAlreadyCompleted(err error) bool {
	return errors.Is(err, ErrAlreadyCompleted)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict checks if the error is a lost optimistic race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTxAborted checks if the conflict aborted the enclosing transaction.
func IsTxAborted(err error) bool {
	return errors.Is(err, ErrTxAborted)
}

// IsRowConflict checks for a lost version race on a single row. The
// transaction is still usable, so the read-compute-write can be retried
// inside it.
func IsRowConflict(err error) bool {
	return IsConflict(err) && !IsTxAborted(err)
}

// IsStore checks if the error came from the persistence layer.
func IsStore(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsRetryable checks if the whole operation can be retried by the caller.
func IsRetryable(err error) bool {
	return IsConflict(err)
}

// KindOf classifies any error. Unclassified errors report KindStore so that
// nothing leaves the engine without a kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return KindNotFound
	case IsAlreadyCompleted(err):
		return KindAlreadyCompleted
	case IsValidation(err):
		return KindValidation
	case IsConflict(err):
		return KindConflict
	default:
		return KindStore
	}
}

// MessageOf returns the human-readable message of the outermost DomainError,
// falling back to err.Error().
func MessageOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
