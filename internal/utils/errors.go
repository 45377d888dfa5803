package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error so the HTTP layer can pick a status code
// without knowing which package produced it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	}
	return "internal"
}

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

// New returns an Error of the given kind. Code is a stable machine-readable
// identifier, message is safe to show to clients.
func New(kind Kind, code, message string) error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches kind, code and message to an underlying error.
func Wrap(kind Kind, err error, code, message string) error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) error   { return New(KindValidation, code, message) }
func NotFound(code, message string) error     { return New(KindNotFound, code, message) }
func Conflict(code, message string) error     { return New(KindConflict, code, message) }
func Unauthorized(code, message string) error { return New(KindUnauthorized, code, message) }
func Forbidden(code, message string) error    { return New(KindForbidden, code, message) }

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the machine-readable code of err, "internal" if unknown.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal"
}

// PublicMessage returns the message that may be sent to a client.
// Internal errors never leak their cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
