/*
errors.go - Error taxonomy for the renewal engine

ERROR CATEGORIES:
  1. Validation - bad or missing input, surfaced immediately, never retried
  2. Conflict   - policy in the wrong state (not active, already renewed)
  3. Dependency - notification sender unreachable or too slow; isolated per
                  candidate by the reminder runner
  4. Persistence - the store could not read or commit; propagated, and the
                   transactor guarantees nothing partial survives

USAGE:
  if errors.Is(err, renewal.ErrValidation) { ... 400 ... }

  var verr *renewal.ValidationError
  if errors.As(err, &verr) { log.Println(verr.Field) }
*/
package renewal

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrDependency  = errors.New("dependency failure")
	ErrPersistence = errors.New("persistence failure")

	// ErrPolicyNotFound is also what a second concurrent renewal sees: the row
	// was deleted by the first commit.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrConfigNotFound means the service type has no renewal configuration
	// and must be skipped.
	ErrConfigNotFound = errors.New("renewal config not found")

	ErrNoContact         = errors.New("no contact email resolvable for holder")
	ErrDuplicateReminder = errors.New("reminder already logged for this policy today")
	ErrRunInProgress     = errors.New("reminder run already in progress")
	ErrUnknownPolicyType = errors.New("unknown policy type")
	ErrSendTimeout       = errors.New("notification send timed out")
	ErrHolderNotFound    = errors.New("holder not found")

	// ErrDuplicatePolicyNumber means another active policy of the same type
	// already carries the number. Always reached through DuplicatePolicyError.
	ErrDuplicatePolicyNumber = errors.New("policy number already in use")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a state transition attempted from the wrong status.
type ConflictError struct {
	PolicyType PolicyType
	PolicyID   int64
	Status     Status
	Action     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s %s policy %d: status is %s", e.Action, e.PolicyType, e.PolicyID, e.Status)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// DuplicatePolicyError is returned when an insert would give two active
// policies of one type the same number. It matches both ErrConflict and
// ErrDuplicatePolicyNumber.
type DuplicatePolicyError struct {
	PolicyType   PolicyType
	PolicyNumber string
}

func (e *DuplicatePolicyError) Error() string {
	return fmt.Sprintf("%s policy number %q already in use", e.PolicyType, e.PolicyNumber)
}

func (e *DuplicatePolicyError) Unwrap() []error {
	return []error{ErrDuplicatePolicyNumber, ErrConflict}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrUnknownPolicyType)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrConfigNotFound) ||
		errors.Is(err, ErrHolderNotFound)
}

// IsConflict returns true for state conflicts the caller should not retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrRunInProgress)
}

// persistenceError tags an infrastructure error so callers can tell it apart
// from precondition failures.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
