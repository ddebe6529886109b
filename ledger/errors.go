/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error kinds of the system in one place. Stores, services, the session
  gate and the HTTP layer all speak these errors; the HTTP layer maps them
  to status codes exactly once.

ERROR CATEGORIES:
  1. Account errors    - duplicate username, bad credentials, missing account
  2. Validation errors - empty outlet, oversold, bad month/year, bad input
  3. Access errors     - unauthenticated caller, non-admin on admin operation
  4. Store errors      - storage engine unavailable or failing

USAGE:
  if errors.Is(err, ledger.ErrOversold) {
      var o *ledger.OversoldError
      errors.As(err, &o) // o.Delivered, o.Sold
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateUsername is returned by Register when the username exists.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrInvalidCredentials is returned when no account matches the
	// presented username/password pair. It never says which half was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAccountNotFound is returned when an operation names an unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmptyOutlet is returned when a delivery has a blank outlet name.
	ErrEmptyOutlet = errors.New("outlet name must not be empty")

	// ErrOversold is returned when quantity sold exceeds quantity delivered.
	ErrOversold = errors.New("quantity sold exceeds quantity delivered")

	// ErrInvalidMonthOrYear is returned for a month outside 1-12 or a bad year.
	ErrInvalidMonthOrYear = errors.New("invalid month or year")

	// ErrInvalidInput covers the remaining field validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated is returned when an operation needs a logged-in caller.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrUnauthorized is returned when a non-admin attempts an admin operation.
	ErrUnauthorized = errors.New("admin privileges required")

	// ErrStorageUnavailable is returned when the storage engine fails.
	// Callers at the boundary may retry; nothing was applied.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending field
// =============================================================================

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field string
	Value any
	Err   error // one of the sentinels above
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// OversoldError provides the quantities of a rejected delivery.
type OversoldError struct {
	Delivered int64
	Sold      int64
}

func (e *OversoldError) Error() string {
	return fmt.Sprintf("quantity sold %d exceeds quantity delivered %d", e.Sold, e.Delivered)
}

func (e *OversoldError) Unwrap() error { return ErrOversold }

// StorageError wraps a storage-engine failure. errors.Is(err,
// ErrStorageUnavailable) holds, and the driver error stays reachable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// Storage wraps err as a StorageError unless it is nil or already a domain
// error, which pass through untouched.
func Storage(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrDuplicateUsername) ||
		errors.Is(err, ErrAccountNotFound) ||
		IsClientError(err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Field returns the offending field of a validation failure, if any.
func Field(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	switch {
	case errors.Is(err, ErrEmptyOutlet):
		return "outlet"
	case errors.Is(err, ErrOversold):
		return "quantity_sold"
	}
	return ""
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyOutlet) ||
		errors.Is(err, ErrOversold) ||
		errors.Is(err, ErrInvalidMonthOrYear) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrUnauthorized)
}
