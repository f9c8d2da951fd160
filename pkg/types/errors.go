package types

import "fmt"

// ErrorKind is the closed set of error tags the core ever returns to a
// caller. Internal faults are normalized to ErrInvalidOperation before
// they cross an RPC boundary.
type ErrorKind string

const (
	ErrNotFound         ErrorKind = "not_found"
	ErrInvalidOperation ErrorKind = "invalid_operation"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrValidation       ErrorKind = "validation"
	ErrTimeout          ErrorKind = "timeout"
)

// Error is the single sum type backing every user-visible failure.
// It carries no stack trace, no source path, and no secret material.
type Error struct {
	Kind       ErrorKind
	Message    string
	Resource   string // NotFound
	Identifier string // NotFound
	Operation  string // PermissionDenied, Timeout
	Field      string // Validation
	TimeoutMs  int64  // Timeout
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("%s %q not found", e.Resource, e.Identifier)
	case ErrTimeout:
		return fmt.Sprintf("%s timed out after %dms", e.Operation, e.TimeoutMs)
	default:
		return string(e.Kind)
	}
}

// Is reports whether err carries the given kind, so callers can branch
// with errors.Is(err, types.ErrNotFound) style checks via a sentinel
// wrapper, or inspect Kind directly after an errors.As.
func (e *Error) Is(kind ErrorKind) bool { return e != nil && e.Kind == kind }

func NotFound(resource, identifier string) *Error {
	return &Error{Kind: ErrNotFound, Resource: resource, Identifier: identifier}
}

func InvalidOperation(message string) *Error {
	return &Error{Kind: ErrInvalidOperation, Message: message}
}

func PermissionDenied(operation, message string) *Error {
	return &Error{Kind: ErrPermissionDenied, Operation: operation, Message: message}
}

func Validation(field, message string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: message}
}

func Timeout(operation string, timeoutMs int64) *Error {
	return &Error{Kind: ErrTimeout, Operation: operation, TimeoutMs: timeoutMs}
}

// AsError unwraps err into a *Error if possible, normalizing anything
// else to ErrInvalidOperation the way an internal store fault should
// appear once it crosses an RPC boundary.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: ErrInvalidOperation, Message: err.Error()}
}
