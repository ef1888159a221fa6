package callback

import (
	"errors"
	"testing"

	"github.com/acme/click-to-call-bridge/internal/signaling"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

func TestPatternModeMatchesFromUser(t *testing.T) {
	match, err := NewPredicate(MatchPolicy{ExpectedOwner: "A", FromUserPattern: "^1555.*"})
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	cases := []struct {
		call *signaling.Event
		want bool
	}{
		{&signaling.Event{OwnerID: "A", From: "1555123"}, true},
		{&signaling.Event{OwnerID: "A", From: "2000000"}, false},
		{&signaling.Event{OwnerID: "B", From: "1555123"}, false},
	}
	for _, tc := range cases {
		if got := match(tc.call); got != tc.want {
			t.Errorf("owner=%s from=%s: got %v, want %v", tc.call.OwnerID, tc.call.From, got, tc.want)
		}
	}
}

func TestDefaultModeRequiresMarkerAndStrippedTo(t *testing.T) {
	match, err := NewPredicate(MatchPolicy{
		ExpectedOwner:    "A",
		ForwardingNumber: "15551234567",
		MarkerHeader:     "Diversion",
		PrefixLength:     1,
	})
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	marked := map[string]string{"diversion": "<sip:15551234567@gw>"}
	cases := []struct {
		name string
		call *signaling.Event
		want bool
	}{
		{"marker and stripped to", &signaling.Event{OwnerID: "A", To: "5551234567", Headers: marked}, true},
		{"no marker", &signaling.Event{OwnerID: "A", To: "5551234567"}, false},
		{"unstripped to", &signaling.Event{OwnerID: "A", To: "15551234567", Headers: marked}, false},
		{"other owner", &signaling.Event{OwnerID: "B", To: "5551234567", Headers: marked}, false},
	}
	for _, tc := range cases {
		if got := match(tc.call); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDefaultModeConfigurablePrefix(t *testing.T) {
	match, err := NewPredicate(MatchPolicy{
		ExpectedOwner:    "A",
		ForwardingNumber: "0044201234567",
		MarkerHeader:     "Diversion",
		PrefixLength:     2,
	})
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}
	call := &signaling.Event{OwnerID: "A", To: "44201234567", Headers: map[string]string{"Diversion": "x"}}
	if !match(call) {
		t.Fatalf("expected match with a two character prefix")
	}
}

func TestNewPredicateValidation(t *testing.T) {
	policies := []MatchPolicy{
		{ForwardingNumber: "1555", MarkerHeader: "Diversion"},
		{ExpectedOwner: "A", FromUserPattern: "("},
		{ExpectedOwner: "A", MarkerHeader: "Diversion"},
		{ExpectedOwner: "A", ForwardingNumber: "1555"},
	}
	for _, p := range policies {
		if _, err := NewPredicate(p); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("policy %+v: expected validation error, got %v", p, err)
		}
	}
}

func TestStripPrefix(t *testing.T) {
	cases := []struct {
		number string
		n      int
		want   string
	}{
		{"15551234567", 1, "5551234567"},
		{"15551234567", 0, "15551234567"},
		{"1", 1, ""},
		{"12", 5, ""},
	}
	for _, tc := range cases {
		if got := StripPrefix(tc.number, tc.n); got != tc.want {
			t.Errorf("StripPrefix(%q, %d) = %q, want %q", tc.number, tc.n, got, tc.want)
		}
	}
}
