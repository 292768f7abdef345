// Package errors implements the engine's error taxonomy: a closed set of
// kinds shared by the worker loop, the coordinator, and the submission API
// so that every failure carries a classification instead of an opaque string.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed and what the caller should do about it.
type Kind string

const (
	// InvalidBlueprint is raised at submit time when the blueprint fails
	// topology validation. Surfaced to the client as HTTP 400.
	InvalidBlueprint Kind = "InvalidBlueprint"

	// NotFound means an unknown workflow or task id was requested. HTTP 404.
	NotFound Kind = "NotFound"

	// TransportError covers unreachable endpoints, 5xx responses, and
	// malformed control-interface bodies. Retriable until the attempt cap.
	TransportError Kind = "TransportError"

	// ServiceError is a business failure reported by the service itself
	// (status=failed). Non-retriable; the message is kept verbatim.
	ServiceError Kind = "ServiceError"

	// RemoteTimeout means a long-running task exceeded its configured
	// remote timeout while polling. Non-retriable.
	RemoteTimeout Kind = "RemoteTimeout"

	// ClaimLost means extend_claim reported the caller no longer owns the
	// task. The worker abandons it silently; recover_expired will re-enqueue it.
	ClaimLost Kind = "ClaimLost"

	// InternalError covers invariant violations and Store failures. The
	// task is abandoned and recovered through claim expiry.
	InternalError Kind = "InternalError"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retriable reports whether the worker loop should re-enqueue the task
// rather than transition it to a terminal failed state.
func (e *Error) Retriable() bool {
	return e.Kind == TransportError
}

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to InternalError for any
// error that was not produced by this package.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return InternalError
}
