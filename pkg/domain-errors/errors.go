// Package domainerrors carries coded errors across the service boundary.
//
// Services return these so transports can pick a status without string
// matching. Stores return sentinel errors instead (see pkg/platform/sentinel)
// and services translate them here.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Transports map codes to status codes.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"

	// Broker-specific kinds.
	CodeForbiddenOrigin    Code = "forbidden_origin"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeUnknownPolicy      Code = "access_denied"
	CodeRateLimited        Code = "rate_limited"
)

// Error is a coded domain error. Message is safe to show to callers; Err is
// the wrapped cause and never leaves the process.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New builds a domain error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and a caller-safe message to err.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports equality on code and message so tests can use errors.Is with a
// freshly built expected error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// As returns the first domain error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
