package telephony

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

// Credentials authenticate one attempt against the voice web service.
// They are never persisted.
type Credentials struct {
	Identity string
	Secret   string
}

// CallAuthToken is the short-lived token required to place a call.
type CallAuthToken string

// Session is the opaque, attempt-scoped state produced by Login.
type Session interface {
	Close()
}

// CallRequestParams describes one call initiation request.
type CallRequestParams struct {
	forwardingDestination string
	dialDestination       string
	token                 CallAuthToken
}

// NewCallRequestParams validates and freezes the call parameters.
func NewCallRequestParams(forwarding, dial string, token CallAuthToken) (CallRequestParams, error) {
	forwarding = strings.TrimSpace(forwarding)
	dial = strings.TrimSpace(dial)
	switch {
	case forwarding == "":
		return CallRequestParams{}, fmt.Errorf("%w: forwarding destination is required", apperrors.ErrValidation)
	case dial == "":
		return CallRequestParams{}, fmt.Errorf("%w: dial destination is required", apperrors.ErrValidation)
	case token == "":
		return CallRequestParams{}, fmt.Errorf("%w: call authorization token is required", apperrors.ErrValidation)
	}
	return CallRequestParams{forwardingDestination: forwarding, dialDestination: dial, token: token}, nil
}

func (p CallRequestParams) ForwardingDestination() string { return p.forwardingDestination }
func (p CallRequestParams) DialDestination() string       { return p.dialDestination }
func (p CallRequestParams) Token() CallAuthToken           { return p.token }

// Provider abstracts the voice web service integration.
type Provider interface {
	Login(ctx context.Context, creds Credentials) (Session, CallAuthToken, error)
	// TriggerCall asks the service to ring the dial destination and connect it
	// to the forwarding destination. Success only means the request was accepted.
	TriggerCall(ctx context.Context, session Session, params CallRequestParams) error
}
