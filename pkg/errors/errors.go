package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so cloned and wrapped
// variants of a predefined error still match it with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrStorage      = New("STORAGE_ERROR", http.StatusServiceUnavailable, "storage unavailable")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Booking core errors.
var (
	ErrInvalidRange        = New("INVALID_RANGE", http.StatusBadRequest, "invalid time range")
	ErrSlotConflict        = New("SLOT_CONFLICT", http.StatusConflict, "time slot overlaps an existing slot")
	ErrSlotNotFound        = New("SLOT_NOT_FOUND", http.StatusNotFound, "time slot not found")
	ErrSlotUnavailable     = New("SLOT_UNAVAILABLE", http.StatusConflict, "time slot is not available")
	ErrAlreadyBooked       = New("ALREADY_BOOKED", http.StatusConflict, "time slot already has an active appointment")
	ErrSlotBooked          = New("SLOT_BOOKED", http.StatusConflict, "booked time slot cannot be deleted")
	ErrAppointmentNotFound = New("APPOINTMENT_NOT_FOUND", http.StatusNotFound, "appointment not found")
	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "appointment status transition not allowed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Storage wraps a persistence failure so callers know the operation was not applied.
func Storage(err error, message string) *Error {
	return Wrap(err, ErrStorage.Code, ErrStorage.Status, message)
}

// HasCode reports whether err normalises to the given code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
