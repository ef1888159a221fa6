package callback

import (
	"fmt"
	"regexp"

	"github.com/acme/click-to-call-bridge/internal/signaling"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

// Predicate decides whether an inbound call belongs to a pending attempt.
type Predicate func(call signaling.InboundCall) bool

// MatchPolicy selects and parameterises the matching mode. When
// FromUserPattern is set the caller-id pattern mode is used, otherwise the
// forwarded-call mode keyed on the marker header and the To user.
type MatchPolicy struct {
	ExpectedOwner    string
	ForwardingNumber string
	FromUserPattern  string
	MarkerHeader     string
	// PrefixLength is how many leading characters of ForwardingNumber the
	// carrier drops before delivering the call (the dialing prefix).
	PrefixLength int
}

// NewPredicate builds the predicate for p.
func NewPredicate(p MatchPolicy) (Predicate, error) {
	owner := p.ExpectedOwner
	if owner == "" {
		return nil, fmt.Errorf("%w: expected owner is required", apperrors.ErrValidation)
	}

	if p.FromUserPattern != "" {
		re, err := regexp.Compile(p.FromUserPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: from-user pattern: %v", apperrors.ErrValidation, err)
		}
		return func(call signaling.InboundCall) bool {
			return call.Owner() == owner && re.MatchString(call.FromUser())
		}, nil
	}

	if p.ForwardingNumber == "" {
		return nil, fmt.Errorf("%w: forwarding number is required", apperrors.ErrValidation)
	}
	if p.MarkerHeader == "" {
		return nil, fmt.Errorf("%w: marker header is required", apperrors.ErrValidation)
	}
	marker := p.MarkerHeader
	expectedTo := StripPrefix(p.ForwardingNumber, p.PrefixLength)

	return func(call signaling.InboundCall) bool {
		return call.Owner() == owner && call.HasHeader(marker) && call.ToUser() == expectedTo
	}, nil
}

// StripPrefix drops the first n characters of number.
func StripPrefix(number string, n int) string {
	if n <= 0 {
		return number
	}
	if n >= len(number) {
		return ""
	}
	return number[n:]
}
