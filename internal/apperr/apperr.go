// Package apperr defines the structured errors returned across service boundaries.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindBadRequest   Kind = "BAD_REQUEST"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindInternal     Kind = "INTERNAL_SERVER_ERROR"
)

// Error carries a kind, a caller-facing message and an optional cause.
// MessageID, when set, names an i18n message used instead of Message.
type Error struct {
	Kind      Kind
	Message   string
	MessageID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithMessageID attaches a translation key to the error.
func (e *Error) WithMessageID(id string) *Error {
	e.MessageID = id
	return e
}

// Unauthorized reports a missing or invalid session.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, MessageID: "ErrUnauthorized"}
}

// Forbidden reports an authenticated caller acting outside their rights.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg, MessageID: "ErrForbidden"}
}

// BadRequest reports malformed input.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// NotFound reports a missing resource.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, MessageID: "ErrNotFound"}
}

// Conflict reports a uniqueness clash.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Internal wraps an unexpected failure. The cause is kept for logs only.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, MessageID: "ErrInternal", Err: err}
}

// KindOf returns the kind of err, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
