package errors

import (
	"errors"
	"fmt"
)

// Sentinels for domain errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
	ErrUnavailable   = errors.New("service unavailable")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Sentinels for the bridged call workflow.
var (
	ErrTransport              = errors.New("transport error")
	ErrTokenNotFound          = errors.New("token not found")
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrCallAuthTokenNotFound  = errors.New("call authorization token not found")
	ErrCallRequestRejected    = errors.New("call request rejected")

	// ErrNoCallback marks the empty rendezvous outcome. It is not a failure:
	// the remote service accepted the request but the call never came back.
	ErrNoCallback = errors.New("no callback received")
)

// StatusError carries the HTTP status observed on a failed step.
type StatusError struct {
	Kind   error
	Step   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: unexpected status %d", e.Step, e.Kind, e.Status)
}

// Unwrap exposes the kind sentinel to errors.Is.
func (e *StatusError) Unwrap() error {
	return e.Kind
}

// NewStatusError builds a StatusError for the given step.
func NewStatusError(kind error, step string, status int) error {
	return &StatusError{Kind: kind, Step: step, Status: status}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Kind names the taxonomy bucket err belongs to.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCallback):
		return "rendezvous_timeout"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrAuthenticationRejected):
		return "authentication_rejected"
	case errors.Is(err, ErrCallAuthTokenNotFound):
		return "call_auth_token_not_found"
	case errors.Is(err, ErrCallRequestRejected):
		return "call_request_rejected"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
