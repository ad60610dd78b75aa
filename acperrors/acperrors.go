// Package acperrors defines the closed set of error kinds the core surfaces,
// per the error handling design: local recovery for anything inside the
// stream pipeline, escalation to the prompt caller for anything that makes a
// turn semantically meaningless.
package acperrors

import "errors"

// Kind classifies an acpcore error for propagation-policy purposes. Kind is
// closed: every error the core raises is one of these.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindNotInitialized      Kind = "not_initialized"
	KindSessionNotFound     Kind = "session_not_found"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamExited      Kind = "upstream_exited"
	KindCancelled           Kind = "cancelled"
	KindTimeout             Kind = "timeout"
	KindParseError          Kind = "parse_error"
	KindSubscriberError     Kind = "subscriber_error"
	KindPersistenceError    Kind = "persistence_error"
)

// Error is an acpcore error tagged with a Kind, so callers can branch on
// classification with errors.As without parsing strings.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind carried by err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
