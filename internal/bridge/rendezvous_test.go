package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acme/click-to-call-bridge/internal/callback"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

func ownerMatch(owner string) callback.Predicate {
	return func(call signaling.InboundCall) bool { return call.Owner() == owner }
}

func TestWaitWakesImmediatelyOnMatch(t *testing.T) {
	reg := callback.NewRegistry(logger.NewNop())
	rv := NewRendezvous(reg, 10*time.Second)
	if _, err := rv.Arm("A", ownerMatch("A")); err != nil {
		t.Fatalf("arm: %v", err)
	}

	offered := make(chan time.Time, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		offered <- time.Now()
		reg.Offer(&signaling.Event{ID: "in-1", OwnerID: "A"})
	}()

	call, err := rv.Wait(context.Background())
	woke := time.Now()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if call.CallID() != "in-1" {
		t.Fatalf("unexpected call %s", call.CallID())
	}
	if lag := woke.Sub(<-offered); lag > 100*time.Millisecond {
		t.Fatalf("wait released %v after the offer", lag)
	}
	if rv.State() != StateMatched {
		t.Fatalf("expected matched, got %s", rv.State())
	}
}

func TestWaitTimesOutAndDeregisters(t *testing.T) {
	reg := callback.NewRegistry(logger.NewNop())
	rv := NewRendezvous(reg, 50*time.Millisecond)
	if _, err := rv.Arm("A", ownerMatch("A")); err != nil {
		t.Fatalf("arm: %v", err)
	}

	call, err := rv.Wait(context.Background())
	if !errors.Is(err, apperrors.ErrNoCallback) {
		t.Fatalf("expected no callback, got %v", err)
	}
	if call != nil {
		t.Fatalf("expected no call")
	}
	if rv.State() != StateTimedOut {
		t.Fatalf("expected timed out, got %s", rv.State())
	}
	if reg.Len() != 0 {
		t.Fatalf("matcher leaked: %d pending", reg.Len())
	}
	if _, ok := reg.Offer(&signaling.Event{OwnerID: "A"}); ok {
		t.Fatalf("late call must not be claimed")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	reg := callback.NewRegistry(logger.NewNop())
	rv := NewRendezvous(reg, 10*time.Second)
	if _, err := rv.Arm("A", ownerMatch("A")); err != nil {
		t.Fatalf("arm: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rv.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if rv.State() != StateAborted {
		t.Fatalf("expected aborted, got %s", rv.State())
	}
	if reg.Len() != 0 {
		t.Fatalf("matcher leaked")
	}
}

func TestArmOnlyOnce(t *testing.T) {
	reg := callback.NewRegistry(logger.NewNop())
	rv := NewRendezvous(reg, time.Second)
	if _, err := rv.Arm("A", ownerMatch("A")); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, err := rv.Arm("A", ownerMatch("A")); err == nil {
		t.Fatalf("second arm must fail")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected a single registration, got %d", reg.Len())
	}
}

func TestWaitBeforeArm(t *testing.T) {
	rv := NewRendezvous(callback.NewRegistry(logger.NewNop()), time.Second)
	if _, err := rv.Wait(context.Background()); err == nil {
		t.Fatalf("wait on an idle rendezvous must fail")
	}
}

func TestAbortYieldsToEarlierClaim(t *testing.T) {
	reg := callback.NewRegistry(logger.NewNop())
	rv := NewRendezvous(reg, time.Second)
	if _, err := rv.Arm("A", ownerMatch("A")); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, ok := reg.Offer(&signaling.Event{ID: "in-1", OwnerID: "A"}); !ok {
		t.Fatalf("offer should match")
	}

	call := rv.Abort()
	if call == nil || call.CallID() != "in-1" {
		t.Fatalf("abort should surface the claimed call")
	}
	if rv.State() != StateMatched {
		t.Fatalf("claim wins over abort, got %s", rv.State())
	}
}

func TestStartRestartsDeadline(t *testing.T) {
	reg := callback.NewRegistry(logger.NewNop())
	rv := NewRendezvous(reg, 100*time.Millisecond)
	if _, err := rv.Arm("A", ownerMatch("A")); err != nil {
		t.Fatalf("arm: %v", err)
	}

	// a slow call request would otherwise eat most of the deadline
	time.Sleep(80 * time.Millisecond)
	rv.Start()
	started := time.Now()

	_, err := rv.Wait(context.Background())
	if !errors.Is(err, apperrors.ErrNoCallback) {
		t.Fatalf("expected no callback, got %v", err)
	}
	if waited := time.Since(started); waited < 90*time.Millisecond {
		t.Fatalf("deadline counted from arming: waited only %v after start", waited)
	}
}
