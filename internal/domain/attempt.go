package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates lifecycle states of a bridged call attempt.
type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusAwaiting   AttemptStatus = "awaiting_callback"
	AttemptStatusBridged    AttemptStatus = "bridged"
	AttemptStatusNoCallback AttemptStatus = "no_callback"
	AttemptStatusFailed     AttemptStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusBridged, AttemptStatusNoCallback, AttemptStatusFailed:
		return true
	default:
		return false
	}
}

// ErrorKindAbandoned marks attempts closed by the reaper after their process
// went away.
const ErrorKindAbandoned = "abandoned"

// MatchMode records how the inbound leg is recognised.
type MatchMode string

const (
	MatchModeFromPattern MatchMode = "from_pattern"
	MatchModeForwarded   MatchMode = "forwarded"
)

// Attempt is one end-to-end bridged call attempt. Credentials are never
// part of it.
type Attempt struct {
	ID                    uuid.UUID
	Owner                 string
	ForwardingDestination string
	DialDestination       string
	MatchMode             MatchMode
	Status                AttemptStatus
	ErrorKind             string
	LastError             *string
	InboundCallID         string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	TriggeredAt           *time.Time
	CompletedAt           *time.Time
}

// AttemptEvent is one entry of an attempt's timeline.
type AttemptEvent struct {
	AttemptID  uuid.UUID
	Stage      string
	Detail     string
	OccurredAt time.Time
}
