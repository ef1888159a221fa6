package queue

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeMessage reports the terminal outcome of a bridged call attempt.
type OutcomeMessage struct {
	AttemptID             uuid.UUID `json:"attempt_id"`
	Owner                 string    `json:"owner"`
	ForwardingDestination string    `json:"forwarding_destination"`
	DialDestination       string    `json:"dial_destination"`
	Outcome               string    `json:"outcome"`
	ErrorKind             string    `json:"error_kind,omitempty"`
	Error                 string    `json:"error,omitempty"`
	HTTPStatus            int       `json:"http_status,omitempty"`
	InboundCallID         string    `json:"inbound_call_id,omitempty"`
	DurationMs            int64     `json:"duration_ms"`
	OccurredAt            time.Time `json:"occurred_at"`
}
