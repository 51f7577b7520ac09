// Package apperr defines the coded errors surfaced by every engine operation.
// Codes are stable strings; the HTTP layer maps them to statuses and clients
// branch on them.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable short identifier for an error kind.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodeInsufficientShares  Code = "INSUFFICIENT_SHARES"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeStateConflict       Code = "STATE_CONFLICT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeExternalPending     Code = "EXTERNAL_PENDING"
	CodeExternalFailed      Code = "EXTERNAL_FAILED"
	CodeDuplicate           Code = "DUPLICATE"
	CodeRateLimit           Code = "RATE_LIMIT"
	CodeInternal            Code = "INTERNAL"
)

// Error carries a code, a human message and optional structured metadata
// (e.g. available/requested counts on INSUFFICIENT_SHARES).
type Error struct {
	Code    Code
	Message string
	Meta    map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.wrapped }

// Is matches two apperr errors by code so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// WithMeta attaches a metadata key/value and returns the error for chaining.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

// New builds an error with an arbitrary code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// InsufficientShares reports a failed reservation together with what the
// caller observed as still available.
func InsufficientShares(requested, available int64) *Error {
	e := New(CodeInsufficientShares, "requested %d shares, %d available", requested, available)
	return e.WithMeta("requested", requested).WithMeta("available", available)
}

func InsufficientBalance(format string, args ...any) *Error {
	return New(CodeInsufficientBalance, format, args...)
}

func StateConflict(format string, args ...any) *Error {
	return New(CodeStateConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(CodeUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, format, args...)
}

func ExternalPending(format string, args ...any) *Error {
	return New(CodeExternalPending, format, args...)
}

func ExternalFailed(format string, args ...any) *Error {
	return New(CodeExternalFailed, format, args...)
}

func Duplicate(format string, args ...any) *Error {
	return New(CodeDuplicate, format, args...)
}

func RateLimit(format string, args ...any) *Error {
	return New(CodeRateLimit, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(CodeInternal, format, args...)
}

// CodeOf extracts the code from any error, defaulting to INTERNAL for
// non-apperr errors so callers never leak raw causes to clients.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
