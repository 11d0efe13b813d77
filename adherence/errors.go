/*
errors.go - Error taxonomy for the adherence engine

PURPOSE:
  All error types in one place. Callers match with errors.Is against the
  sentinels, or errors.As against the structured types when they need the
  details (field name, resource id, natural key).

ERROR CATEGORIES:
  ValidationError    Malformed rule, missing field. Never retried.
  NotFoundError      Unknown plan / medication / user / check-in.
  AuthorizationError Cross-user access attempt. Logged by the API.
  ConflictError      Natural-key or uniqueness collision. The materializer
                     turns plan collisions into silent skips.

SEE ALSO:
  - ledger.go: NotFoundError on foreign plans
  - materializer.go: ErrDuplicatePlan handling
  - api/handlers.go: HTTP status mapping
*/
package adherence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("not authorized")
	ErrConflict   = errors.New("conflict")

	// ErrDuplicatePlan is returned by stores when a DailyPlan with the same
	// natural key already exists. It is expected during materialization.
	ErrDuplicatePlan = fmt.Errorf("%w: daily plan already exists", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing resource kind and id.
type NotFoundError struct {
	Kind string // "plan", "medication", "checkin", "user", "supervision"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthorizationError records who tried to touch what.
type AuthorizationError struct {
	UserID   UserID
	Resource string
	ID       string
	Reason   string
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("user %q may not access %s %q", e.UserID, e.Resource, e.ID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Resource, e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports errors caused by caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
