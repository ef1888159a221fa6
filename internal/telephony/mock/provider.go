package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/click-to-call-bridge/internal/callback"
	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/internal/telephony"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

// OfferFunc hands a synthetic inbound call to the dispatcher.
type OfferFunc func(call signaling.InboundCall)

// Provider simulates the voice web service. Accepted calls come back as
// synthetic inbound calls after a random delay, so the whole bridge can run
// without the real service or a SIP trunk.
type Provider struct {
	offer        OfferFunc
	markerHeader string
	prefixLength int
	answerRate   float64

	mu  sync.Mutex
	rng *rand.Rand
}

type session struct {
	identity string
}

func (s *session) Close() {}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.CallBridgeConfig, offer OfferFunc) *Provider {
	seed := time.Now().UnixNano()
	return &Provider{
		offer:        offer,
		markerHeader: cfg.MarkerHeader,
		prefixLength: cfg.PrefixLength,
		answerRate:   0.8,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Login accepts any non-empty credentials.
func (p *Provider) Login(ctx context.Context, creds telephony.Credentials) (telephony.Session, telephony.CallAuthToken, error) {
	if creds.Identity == "" || creds.Secret == "" {
		return nil, "", apperrors.ErrAuthenticationRejected
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return &session{identity: creds.Identity}, telephony.CallAuthToken("mock-" + uuid.NewString()), nil
}

// TriggerCall accepts the request and, most of the time, calls back.
func (p *Provider) TriggerCall(ctx context.Context, s telephony.Session, params telephony.CallRequestParams) error {
	sess, ok := s.(*session)
	if !ok {
		return apperrors.ErrValidation
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	answered := p.rng.Float64() <= p.answerRate
	delay := time.Duration(1+p.rng.Intn(3)) * time.Second
	p.mu.Unlock()

	if !answered || p.offer == nil {
		return nil
	}

	to := callback.StripPrefix(params.ForwardingDestination(), p.prefixLength)
	call := &signaling.Event{
		ID:      uuid.NewString(),
		OwnerID: sess.identity,
		From:    params.DialDestination(),
		To:      to,
		Headers: map[string]string{p.markerHeader: "<sip:" + params.ForwardingDestination() + ">"},
	}
	time.AfterFunc(delay, func() { p.offer(call) })
	return nil
}
