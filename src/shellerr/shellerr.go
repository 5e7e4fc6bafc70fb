// Package shellerr defines the typed error carried inside tool results.
package shellerr

import (
	"errors"
	"fmt"
)

// Code classifies an Error for programmatic handling by callers.
type Code string

const (
	NotFound         Code = "NOT_FOUND"
	Conflict         Code = "CONFLICT"
	Invalid          Code = "INVALID"
	Timeout          Code = "TIMEOUT"
	ResourceExceeded Code = "RESOURCE_EXCEEDED"
	IO               Code = "IO"
	ExternalFailure  Code = "EXTERNAL_FAILURE"
)

// Error is the shape every tool handler returns instead of a bare error,
// so callers can distinguish recoverable conditions from hard failures.
type Error struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, recoverable bool, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Recoverable: recoverable}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, false, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, false, format, args...)
}

func Invalidf(format string, args ...any) *Error {
	return New(Invalid, false, format, args...)
}

func Timeoutf(format string, args ...any) *Error {
	return New(Timeout, true, format, args...)
}

func ResourceExceededf(format string, args ...any) *Error {
	return New(ResourceExceeded, true, format, args...)
}

func IOf(format string, args ...any) *Error {
	return New(IO, true, format, args...)
}

func ExternalFailuref(format string, args ...any) *Error {
	return New(ExternalFailure, true, format, args...)
}

// As reports whether err is (or wraps) a *Error, mirroring errors.As
// without forcing callers to import errors for this one common case.
func As(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}
