package sipua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/acme/click-to-call-bridge/internal/signaling"
)

const (
	statusTrying                 = 100
	statusOK                     = 200
	statusRequestTimeout         = 408
	statusTemporarilyUnavailable = 480
)

// responder is the part of sip.ServerTransaction a call needs to answer.
type responder interface {
	Respond(res *sip.Response) error
}

// inboundCall adapts an INVITE server transaction to signaling.InboundCall.
type inboundCall struct {
	req *sip.Request
	tx  responder

	callID string
	owner  string
	from   string
	to     string

	mu       sync.Mutex
	closed   bool
	dialogue *signaling.Dialogue
	answered chan struct{}
}

func newInboundCall(req *sip.Request, tx responder) *inboundCall {
	c := &inboundCall{req: req, tx: tx, answered: make(chan struct{})}
	if cid := req.CallID(); cid != nil {
		c.callID = cid.Value()
	}
	if from := req.From(); from != nil {
		c.from = from.Address.User
	}
	if to := req.To(); to != nil {
		c.to = to.Address.User
	}
	c.owner = req.Recipient.User
	if req.Recipient.Host != "" {
		c.owner += "@" + req.Recipient.Host
	}
	return c
}

func (c *inboundCall) CallID() string   { return c.callID }
func (c *inboundCall) Owner() string    { return c.owner }
func (c *inboundCall) FromUser() string { return c.from }
func (c *inboundCall) ToUser() string   { return c.to }

func (c *inboundCall) HasHeader(name string) bool {
	return c.req.GetHeader(name) != nil
}

// Answer sends 200 OK carrying body.
func (c *inboundCall) Answer(ctx context.Context, contentType string, body []byte) (*signaling.Dialogue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("sipua: call %s is no longer answerable", c.callID)
	}

	res := sip.NewResponseFromRequest(c.req, statusOK, "OK", body)
	res.AppendHeader(sip.NewHeader("Content-Type", contentType))
	if err := c.tx.Respond(res); err != nil {
		return nil, fmt.Errorf("sipua: answer %s: %w", c.callID, err)
	}

	c.closed = true
	c.dialogue = &signaling.Dialogue{
		CallID:      c.callID,
		Owner:       c.owner,
		FromUser:    c.from,
		ToUser:      c.to,
		ContentType: contentType,
		Body:        append([]byte(nil), body...),
		AnsweredAt:  time.Now().UTC(),
	}
	close(c.answered)
	return c.dialogue, nil
}

// reject sends a final non-2xx response unless the call was already
// answered or rejected. It reports whether the response was sent.
func (c *inboundCall) reject(code int, reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, nil
	}
	c.closed = true
	if err := c.tx.Respond(sip.NewResponseFromRequest(c.req, sip.StatusCode(code), reason, nil)); err != nil {
		return true, fmt.Errorf("sipua: reject %s with %d: %w", c.callID, code, err)
	}
	return true, nil
}

// Answered is closed once the call has been answered.
func (c *inboundCall) Answered() <-chan struct{} {
	return c.answered
}
