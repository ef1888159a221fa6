package signaling

import (
	"context"
	"fmt"
	"net/textproto"
	"sync"
	"time"
)

// InboundCall is an inbound call as seen by the bridge. The signaling layer
// owns it; the bridge only inspects it and, once claimed, answers it.
type InboundCall interface {
	CallID() string
	// Owner is the local account identity the call was delivered to.
	Owner() string
	FromUser() string
	ToUser() string
	HasHeader(name string) bool
	Answer(ctx context.Context, contentType string, body []byte) (*Dialogue, error)
}

// Dialogue is the established leg produced by answering an inbound call.
type Dialogue struct {
	CallID      string    `json:"call_id"`
	Owner       string    `json:"owner"`
	FromUser    string    `json:"from_user"`
	ToUser      string    `json:"to_user"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body,omitempty"`
	AnsweredAt  time.Time `json:"answered_at"`
}

// Event is an in-memory InboundCall used by the mock provider and tests.
type Event struct {
	ID      string
	OwnerID string
	From    string
	To      string
	Headers map[string]string

	mu       sync.Mutex
	answered *Dialogue
}

func (e *Event) CallID() string   { return e.ID }
func (e *Event) Owner() string    { return e.OwnerID }
func (e *Event) FromUser() string { return e.From }
func (e *Event) ToUser() string   { return e.To }

// HasHeader looks the header up case-insensitively.
func (e *Event) HasHeader(name string) bool {
	want := textproto.CanonicalMIMEHeaderKey(name)
	for k := range e.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == want {
			return true
		}
	}
	return false
}

// Answer records the dialogue. A call can be answered once.
func (e *Event) Answer(ctx context.Context, contentType string, body []byte) (*Dialogue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.answered != nil {
		return nil, fmt.Errorf("signaling: call %s already answered", e.ID)
	}

	e.answered = &Dialogue{
		CallID:      e.ID,
		Owner:       e.OwnerID,
		FromUser:    e.From,
		ToUser:      e.To,
		ContentType: contentType,
		Body:        append([]byte(nil), body...),
		AnsweredAt:  time.Now().UTC(),
	}
	return e.answered, nil
}

// Answered returns the dialogue if the event was answered.
func (e *Event) Answered() *Dialogue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.answered
}
