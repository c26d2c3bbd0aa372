/*
errors.go - Centralized error types for the reminder engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations return these sentinels so callers can branch with
  errors.Is regardless of the backend.

ERROR CATEGORIES:
  1. Lookup errors - Records, preferences or custom events that don't exist
  2. Validation errors - Malformed input rejected before persistence
  3. Stream errors - Change subscriptions that can no longer deliver

SEE ALSO:
  - store.go: Store interfaces that return these errors
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRecordNotFound is returned when no record exists for a document key.
	ErrRecordNotFound = errors.New("reminder record not found")

	// ErrPreferencesNotFound is returned when a user has never saved preferences.
	ErrPreferencesNotFound = errors.New("preferences not found")

	// ErrCustomEventNotFound is returned when a custom event id is unknown.
	ErrCustomEventNotFound = errors.New("custom event not found")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid reminder record")

	// ErrUnresolvableIdentity is returned when an event carries neither an id,
	// a name nor a title, so no key can be derived.
	ErrUnresolvableIdentity = errors.New("event identity could not be resolved")

	// ErrUnknownTimezone is returned when an IANA zone name cannot be loaded.
	ErrUnknownTimezone = errors.New("unknown timezone")

	// ErrSubscriptionClosed is returned when subscribing on a closed store.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidFieldError names the offending input field.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidFieldError) Unwrap() error {
	return ErrInvalidRecord
}

// TimezoneError wraps a failed zone lookup with the requested name.
type TimezoneError struct {
	Name string
	Err  error
}

func (e *TimezoneError) Error() string {
	return fmt.Sprintf("unknown timezone %q: %v", e.Name, e.Err)
}

func (e *TimezoneError) Unwrap() error {
	return ErrUnknownTimezone
}

// =============================================================================
// HELPERS
// =============================================================================

// IsNotFound reports whether err is any of the lookup errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrPreferencesNotFound) ||
		errors.Is(err, ErrCustomEventNotFound)
}

// IsClientError reports whether err was caused by bad input rather than a
// storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrUnresolvableIdentity) ||
		errors.Is(err, ErrUnknownTimezone)
}
