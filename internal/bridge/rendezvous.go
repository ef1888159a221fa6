package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acme/click-to-call-bridge/internal/callback"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

// State is the rendezvous lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateAwaiting
	StateMatched
	StateTimedOut
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting_callback"
	case StateMatched:
		return "matched"
	case StateTimedOut:
		return "timed_out"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Rendezvous couples one accepted call request to the inbound call it
// produces. It is owned by a single attempt and is not reusable.
type Rendezvous struct {
	registry *callback.Registry
	deadline time.Duration

	state   atomic.Int32
	pending *callback.Pending
	armedAt time.Time
}

// NewRendezvous creates an idle rendezvous with the given deadline.
func NewRendezvous(registry *callback.Registry, deadline time.Duration) *Rendezvous {
	return &Rendezvous{registry: registry, deadline: deadline}
}

// State returns the current state.
func (r *Rendezvous) State() State {
	return State(r.state.Load())
}

// Arm registers the matcher and starts the deadline. Calls that arrive
// before Start are still claimed.
func (r *Rendezvous) Arm(owner string, match callback.Predicate) (uuid.UUID, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateAwaiting)) {
		return uuid.Nil, fmt.Errorf("rendezvous: arm in state %s", r.State())
	}
	r.armedAt = time.Now()
	r.pending = r.registry.Register(owner, match)
	return r.pending.ID, nil
}

// Start restarts the deadline, so time spent placing the call request is
// not charged to the callback wait. It must be called before Wait.
func (r *Rendezvous) Start() {
	if r.State() == StateAwaiting {
		r.armedAt = time.Now()
	}
}

// Wait blocks until the matcher claims a call, the deadline passes or ctx
// is done. A claim releases the wait immediately. When the deadline passes
// the error is apperrors.ErrNoCallback.
func (r *Rendezvous) Wait(ctx context.Context) (signaling.InboundCall, error) {
	if r.State() != StateAwaiting {
		return nil, fmt.Errorf("rendezvous: wait in state %s", r.State())
	}

	timer := time.NewTimer(r.deadline - time.Since(r.armedAt))
	defer timer.Stop()

	select {
	case call := <-r.pending.Claimed():
		r.state.Store(int32(StateMatched))
		return call, nil
	case <-timer.C:
		return r.expire(StateTimedOut, apperrors.ErrNoCallback)
	case <-ctx.Done():
		return r.expire(StateAborted, ctx.Err())
	}
}

// Abort withdraws the matcher, e.g. after the call request failed. It
// returns the call if one was claimed in the meantime.
func (r *Rendezvous) Abort() signaling.InboundCall {
	if r.State() != StateAwaiting {
		return nil
	}
	call, _ := r.expire(StateAborted, nil)
	return call
}

// expire deregisters the matcher. If a claim got there first the claim
// wins and its call is returned instead of cause.
func (r *Rendezvous) expire(final State, cause error) (signaling.InboundCall, error) {
	if r.registry.Deregister(r.pending.ID) {
		r.state.Store(int32(final))
		return nil, cause
	}
	call := <-r.pending.Claimed()
	r.state.Store(int32(StateMatched))
	return call, nil
}
