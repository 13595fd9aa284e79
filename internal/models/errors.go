package models

import "fmt"

// ErrorKind classifies every error the engine raises, per the error-handling
// taxonomy: Transient errors are absorbed and retried by the orchestrator,
// Auth errors migrate an account to NeedsReauth, NotFound errors delete
// silently, Validation errors fail a request without touching the store,
// Poison errors quarantine an id, and Fatal errors terminate the daemon.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindAuth       ErrorKind = "auth"
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindPoison     ErrorKind = "poison"
	KindFatal      ErrorKind = "fatal"
)

// Error is the structured error type every component returns so callers can
// type-switch on Kind instead of matching strings.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Transient wraps err as a Transient error (network, 5xx, rate-limit, IDLE
// drop) that the orchestrator retries with backoff.
func Transient(message string, cause error) *Error {
	return NewError(KindTransient, message, cause)
}

// Auth wraps err as an Auth error (token refresh failure, 401) that moves
// the owning account to NeedsReauth.
func Auth(message string, cause error) *Error {
	return NewError(KindAuth, message, cause)
}

// NotFound wraps err as a NotFound error (provider reports a UID/event id
// that no longer exists); the engine deletes the row silently.
func NotFound(message string, cause error) *Error {
	return NewError(KindNotFound, message, cause)
}

// Validation wraps err as a Validation error (bad query/mutation input);
// the request fails without touching the store.
func Validation(message string, cause error) *Error {
	return NewError(KindValidation, message, cause)
}

// Poison wraps err as a Poison error (malformed payload); the id is
// quarantined and logged once.
func Poison(message string, cause error) *Error {
	return NewError(KindPoison, message, cause)
}

// Fatal wraps err as a Fatal error (store corruption, writer-lock conflict,
// missing model file); the daemon exits non-zero with no partial state.
func Fatal(message string, cause error) *Error {
	return NewError(KindFatal, message, cause)
}

// KindOf extracts the ErrorKind from err if it is (or wraps) an *Error,
// defaulting to KindFatal for anything unrecognised so callers never
// silently treat an unknown error as transient.
func KindOf(err error) ErrorKind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindFatal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
