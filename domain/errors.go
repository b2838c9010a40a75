package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalid           ErrorCode = "INVALID"
	ErrCodeInvalidRange      ErrorCode = "INVALID_RANGE"
	ErrCodeInvalidSplitPoint ErrorCode = "INVALID_SPLIT_POINT"
	ErrCodeCycleDetected     ErrorCode = "CYCLE_DETECTED"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeStale             ErrorCode = "STALE"
	ErrCodeTransient         ErrorCode = "TRANSIENT"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal          ErrorCode = "INTERNAL"
)

// ErrorClass groups error codes by how callers are expected to react.
type ErrorClass int

const (
	ClassValidation ErrorClass = iota + 1
	ClassConflict
	ClassTransient
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassConflict:
		return "conflict"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Errorf builds a domain error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Common domain errors.
var (
	ErrTaskNotFound     = NewError(ErrCodeNotFound, "task not found")
	ErrPlanNotFound     = NewError(ErrCodeNotFound, "schedule plan not found")
	ErrEventNotFound    = NewError(ErrCodeNotFound, "schedule event not found")
	ErrJobNotFound      = NewError(ErrCodeNotFound, "reschedule job not found")
	ErrCycleDetected    = NewError(ErrCodeCycleDetected, "cycle detected")
	ErrInvalidRange     = NewError(ErrCodeInvalidRange, "invalid time range")
	ErrInvalidSplit     = NewError(ErrCodeInvalidSplitPoint, "split point must be strictly inside the event")
	ErrNoActivePlan     = NewError(ErrCodeConflict, "no active plan")
	ErrPlanProcessing   = NewError(ErrCodeConflict, "reschedule already in progress")
	ErrUnauthorized     = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrInvalidPayload   = NewError(ErrCodeInvalid, "invalid payload")
	ErrBackendUnhealthy = NewError(ErrCodeTransient, "backend unavailable")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf extracts the error code, treating foreign errors as internal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrCodeTransient
	}
	return ErrCodeInternal
}

// ClassOf maps an error onto the caller-facing taxonomy.
func ClassOf(err error) ErrorClass {
	switch CodeOf(err) {
	case ErrCodeInvalid, ErrCodeInvalidRange, ErrCodeInvalidSplitPoint, ErrCodeUnauthorized:
		return ClassValidation
	case ErrCodeCycleDetected, ErrCodeConflict, ErrCodeStale, ErrCodeNotFound:
		return ClassConflict
	case ErrCodeTransient:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}
