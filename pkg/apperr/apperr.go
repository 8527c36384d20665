// Package apperr defines the coded error taxonomy shared by the booking core
// and its transport layer. Every failure that reaches a caller carries one of
// the codes below; the message is safe to show to end users.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure reason.
type Code string

const (
	CodeDoctorUnavailable Code = "doctor_unavailable"
	CodeSlotInPast        Code = "slot_in_past"
	CodeSlotTaken         Code = "slot_taken"
	CodeNotAuthorized     Code = "not_authorized"
	CodeInvalidRequest    Code = "invalid_request"
	CodeNotFound          Code = "not_found"
	CodeStoreUnavailable  Code = "store_unavailable"
	CodeInternal          Code = "internal"
)

// Error is a coded error. Err holds the underlying cause and is never
// rendered to callers.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrSlotTaken)
// holds for every slot_taken error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Err: e.Err}
}

// WithError returns a copy of e wrapping err.
func (e *Error) WithError(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrDoctorUnavailable = &Error{Code: CodeDoctorUnavailable, Message: "doctor is not available for booking"}
	ErrSlotInPast        = &Error{Code: CodeSlotInPast, Message: "requested slot is in the past"}
	ErrSlotTaken         = &Error{Code: CodeSlotTaken, Message: "slot is already booked"}
	ErrNotAuthorized     = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
	ErrInvalidRequest    = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrStoreUnavailable  = &Error{Code: CodeStoreUnavailable, Message: "store temporarily unavailable"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

// Invalid is shorthand for an invalid_request error with a formatted message.
func Invalid(format string, args ...interface{}) *Error {
	return ErrInvalidRequest.WithMessage(fmt.Sprintf(format, args...))
}

// NotFound is shorthand for a not_found error naming the missing thing.
func NotFound(what string) *Error {
	return ErrNotFound.WithMessage(what + " not found")
}

// CodeOf extracts the code from err. Errors outside the taxonomy report
// CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Public returns the caller-safe form of err: the code and message only.
// Uncoded errors collapse to a generic internal error.
func Public(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Message: e.Message}
	}
	return &Error{Code: ErrInternal.Code, Message: ErrInternal.Message}
}

// Retryable reports whether err is a transient infrastructure failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
