// Package shared contains the error taxonomy and domain events used across
// the TruthRank domain packages.
package shared

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Match with errors.Is.
var (
	// ErrValidation marks malformed input or stats that would break an invariant.
	ErrValidation = errors.New("validation error")

	// ErrRateLimited marks an interactive recalculation inside its cooldown.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound marks an unknown user or rank.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a create for a record that is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStoreConflict marks an optimistic concurrency collision. It is the
	// only kind retried automatically.
	ErrStoreConflict = errors.New("store conflict")

	// ErrPartialBatchFailure marks a single user's pipeline failing inside a job run.
	ErrPartialBatchFailure = errors.New("partial batch failure")

	// ErrUnauthorized marks a caller that is neither the subject user nor privileged.
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "rank", "leaderboard"
	Op      string // operation that failed
	Kind    error  // one of the kinds above
	Message string
	Err     error // underlying cause, optional
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind and the wrapped cause.
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

// ValidationError builds an ErrValidation error with a formatted message.
func ValidationError(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// RateLimitError is returned by the interactive recalculation path while the
// cooldown window is still open.
type RateLimitError struct {
	NextAllowedAt time.Time
	Reason        string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s, next allowed at %s", e.Reason, e.NextAllowedAt.Format(time.RFC3339))
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Common errors.
var (
	ErrUserNotFound = NewDomainError("rank", "Get", ErrNotFound, "user stats not found")
	ErrUserExists   = NewDomainError("rank", "Create", ErrAlreadyExists, "user stats already exist")
	ErrVersionStale = NewDomainError("rank", "Update", ErrStoreConflict, "user stats were modified concurrently")
	ErrUnknownRank  = NewDomainError("rank", "Lookup", ErrValidation, "unknown rank")
)

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRateLimited checks if error is a rate limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsConflict checks if error is an optimistic concurrency collision.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStoreConflict)
}

// IsRetryable reports whether the engine retries err on its own.
func IsRetryable(err error) bool {
	return IsConflict(err)
}
