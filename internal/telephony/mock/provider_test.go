package mock

import (
	"context"
	"testing"
	"time"

	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/internal/telephony"
)

func TestTriggerCallDeliversForwardedCall(t *testing.T) {
	got := make(chan signaling.InboundCall, 1)
	p := NewProvider(config.CallBridgeConfig{MarkerHeader: "Diversion", PrefixLength: 1}, func(call signaling.InboundCall) {
		got <- call
	})
	p.answerRate = 1

	sess, token, err := p.Login(context.Background(), telephony.Credentials{Identity: "alice@example.com", Secret: "pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	params, err := telephony.NewCallRequestParams("15551234567", "18005550100", token)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if err := p.TriggerCall(context.Background(), sess, params); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	select {
	case call := <-got:
		if call.Owner() != "alice@example.com" || call.ToUser() != "5551234567" || !call.HasHeader("diversion") {
			t.Fatalf("unexpected call owner=%q to=%q", call.Owner(), call.ToUser())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no callback delivered")
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	p := NewProvider(config.CallBridgeConfig{}, nil)
	if _, _, err := p.Login(context.Background(), telephony.Credentials{Identity: "alice"}); err == nil {
		t.Fatalf("expected rejection")
	}
}
