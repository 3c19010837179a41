// Package errs defines the error taxonomy shared across the lab range
// backend. Every user-visible failure maps to one of these codes; internal
// detail stays in the logs.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeAccessDenied          Code = "ACCESS_DENIED"
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeQuotaExceeded         Code = "QUOTA_EXCEEDED"
	CodeCapacityReached       Code = "CAPACITY_REACHED"
	CodeLabTypeNotFound       Code = "LAB_TYPE_NOT_FOUND"
	CodeLabNotFound           Code = "LAB_NOT_FOUND"
	CodeContainerRuntimeError Code = "CONTAINER_RUNTIME_ERROR"
	CodeChallengeNotFound     Code = "CHALLENGE_NOT_FOUND"
	CodeAlreadySolved         Code = "ALREADY_SOLVED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error carries a code plus a message safe to show to the caller.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with a code and user-facing message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf formats a user-facing message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause. The cause is logged, never surfaced.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message from an error chain. Unknown
// errors get a generic message so raw diagnostics never leak to callers.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Something went wrong. Please try again."
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
