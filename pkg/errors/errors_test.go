package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrorUnwrapsToKind(t *testing.T) {
	err := fmt.Errorf("login: %w", NewStatusError(ErrAuthenticationRejected, "authenticate", 403))

	if !errors.Is(err, ErrAuthenticationRejected) {
		t.Fatalf("expected authentication rejected, got %v", err)
	}
	if got := StatusOf(err); got != 403 {
		t.Fatalf("expected status 403, got %d", got)
	}
	if got := Kind(err); got != "authentication_rejected" {
		t.Fatalf("unexpected kind %q", got)
	}
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"":                          nil,
		"rendezvous_timeout":        ErrNoCallback,
		"token_not_found":           fmt.Errorf("x: %w", ErrTokenNotFound),
		"call_auth_token_not_found": ErrCallAuthTokenNotFound,
		"call_request_rejected":     NewStatusError(ErrCallRequestRejected, "call", 500),
		"transport_error":           ErrTransport,
		"unavailable":               fmt.Errorf("owner slot: %w", ErrUnavailable),
		"not_found":                 ErrNotFound,
		"internal_error":            errors.New("boom"),
	}

	for want, err := range cases {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestStatusOfPlainError(t *testing.T) {
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
