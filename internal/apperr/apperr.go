package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the handful of failure modes the bridge
// distinguishes. Each kind maps to one HTTP status.
type Kind int

const (
	KindDecryption Kind = iota
	KindUnauthorized
	KindValidation
	KindBadRequest
	KindConflict
	KindNotFound
	KindForbidden
	KindIntegration
)

// Error is the bridge's error type: a kind, a stable machine code and a
// human message. The message is what API callers see.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindDecryption, KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Decryption(format string, args ...interface{}) *Error {
	return newf(KindDecryption, "decryption_failed", format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, "unauthorized", format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, "validation_failed", format, args...)
}

func BadRequest(format string, args ...interface{}) *Error {
	return newf(KindBadRequest, "bad_request", format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, "conflict", format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, "not_found", format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, "forbidden", format, args...)
}

// Integration wraps an unexpected upstream failure.
func Integration(err error, format string, args ...interface{}) *Error {
	e := newf(KindIntegration, "integration_error", format, args...)
	e.Err = err
	return e
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
