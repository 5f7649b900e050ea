package models

import "fmt"

// Error is a typed domain error surfaced to the boundary layer,
// which maps codes to transport statuses.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Sentinel errors shared across services
var (
	ErrAccessDenied  = &Error{Code: "ACCESS_DENIED", Message: "caller is not authorized to read this patient's records"}
	ErrNotFound      = &Error{Code: "NOT_FOUND", Message: "principal or address does not resolve"}
	ErrForbiddenRole = &Error{Code: "FORBIDDEN_ROLE", Message: "caller role does not permit this operation"}
)

// ValidationError reports a malformed or out-of-range input field,
// always caught before any ledger call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
