package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/callback"
	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/domain"
	"github.com/acme/click-to-call-bridge/internal/queue"
	"github.com/acme/click-to-call-bridge/internal/repository"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/internal/telephony"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// Stage is reported to the progress hook as an attempt advances.
type Stage string

const (
	StageInitiating Stage = "initiating"
	StageLoggedIn   Stage = "logged_in"
	StageTriggered  Stage = "triggered"
	StageAwaiting   Stage = "awaiting_callback"
	StageBridged    Stage = "bridged"
	StageNoCallback Stage = "no_callback"
	StageFailed     Stage = "failed"
)

// ProgressFunc observes attempt progress. It runs on the caller's goroutine.
type ProgressFunc func(attemptID uuid.UUID, stage Stage)

// Request is one bridged call request.
type Request struct {
	Credentials telephony.Credentials
	// Owner is the SIP account the callback is delivered to, written as
	// the Request-URI user@host of the forwarded INVITE. Defaults to
	// Credentials.Identity, which only matches when the login identity is
	// that same user@host.
	Owner                 string
	ForwardingDestination string
	DialDestination       string
	FromUserPattern       string
	ContentType           string
	Body                  []byte
	Progress              ProgressFunc
}

// Outcome is the result of a finished attempt. A nil Dialogue means the
// call request was accepted but no callback arrived before the deadline.
type Outcome struct {
	AttemptID uuid.UUID
	Dialogue  *signaling.Dialogue
}

// OutcomePublisher emits terminal outcomes.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg queue.OutcomeMessage) error
}

// SlotLimiter caps concurrent attempts per owner.
type SlotLimiter interface {
	Acquire(ctx context.Context, owner string, limit int) (bool, error)
	Release(ctx context.Context, owner string) error
}

// Dependencies wires the service. Attempts, Events, Publisher and Limiter
// are optional.
type Dependencies struct {
	Provider      telephony.Provider
	Registry      *callback.Registry
	Attempts      repository.AttemptRepository
	Events        repository.AttemptEventStore
	Publisher     OutcomePublisher
	Limiter       SlotLimiter
	Config        config.CallBridgeConfig
	PerOwnerLimit int
	Logger        *logger.Logger
}

// Service runs bridged call attempts: login, call request, rendezvous and
// answer.
type Service struct {
	provider  telephony.Provider
	registry  *callback.Registry
	attempts  repository.AttemptRepository
	events    repository.AttemptEventStore
	publisher OutcomePublisher
	limiter   SlotLimiter
	cfg       config.CallBridgeConfig
	perOwner  int
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewService builds the bridge service.
func NewService(deps Dependencies) *Service {
	return &Service{
		provider:  deps.Provider,
		registry:  deps.Registry,
		attempts:  deps.Attempts,
		events:    deps.Events,
		publisher: deps.Publisher,
		limiter:   deps.Limiter,
		cfg:       deps.Config,
		perOwner:  deps.PerOwnerLimit,
		logger:    deps.Logger.Named("bridge"),
		tracer:    otel.Tracer("bridge.service"),
	}
}

// InitiateBridgedCall runs one attempt to completion. It returns an Outcome
// with a Dialogue when the callback was answered, an Outcome without one
// when no callback arrived in time, and an error for every hard failure.
// Nothing is retried.
func (s *Service) InitiateBridgedCall(ctx context.Context, req Request) (*Outcome, error) {
	if req.Owner == "" {
		req.Owner = req.Credentials.Identity
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	match, mode, err := s.predicateFor(req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	attempt := &domain.Attempt{
		ID:                    uuid.New(),
		Owner:                 req.Owner,
		ForwardingDestination: req.ForwardingDestination,
		DialDestination:       req.DialDestination,
		MatchMode:             mode,
		Status:                domain.AttemptStatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	ctx, span := s.tracer.Start(ctx, "bridge.attempt", trace.WithAttributes(
		attribute.String("attempt.id", attempt.ID.String()),
		attribute.String("attempt.owner", attempt.Owner),
		attribute.String("attempt.match_mode", string(mode)),
	))
	defer span.End()

	lg := s.logger.WithContext(ctx).With(zap.String("attempt_id", attempt.ID.String()), zap.String("owner", attempt.Owner))
	run := &run{svc: s, req: req, attempt: attempt, span: span, log: lg}

	run.progress(ctx, StageInitiating, "")
	s.record(ctx, lg, func(c context.Context) error { return s.attempts.Create(c, attempt) }, s.attempts != nil)

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, req.Owner, s.perOwner)
		if err != nil {
			return nil, run.fail(ctx, fmt.Errorf("%w: owner slot: %v", apperrors.ErrUnavailable, err))
		}
		if !ok {
			return nil, run.fail(ctx, fmt.Errorf("%w: owner %s already has an attempt in flight", apperrors.ErrQuotaExceeded, req.Owner))
		}
		defer func() {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := s.limiter.Release(relCtx, req.Owner); err != nil {
				lg.Warn("release owner slot", zap.Error(err))
			}
		}()
	}

	sess, token, err := s.provider.Login(ctx, req.Credentials)
	if err != nil {
		return nil, run.fail(ctx, err)
	}
	defer sess.Close()
	run.progress(ctx, StageLoggedIn, "")

	params, err := telephony.NewCallRequestParams(req.ForwardingDestination, req.DialDestination, token)
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	// Arm before the request goes out so a fast callback cannot slip past.
	rv := NewRendezvous(s.registry, s.cfg.RendezvousDeadline)
	if _, err := rv.Arm(req.Owner, match); err != nil {
		return nil, run.fail(ctx, err)
	}

	if err := s.provider.TriggerCall(ctx, sess, params); err != nil {
		if stray := rv.Abort(); stray != nil {
			lg.Warn("inbound call claimed after the call request failed; leaving it unanswered",
				zap.String("call_id", stray.CallID()))
		}
		return nil, run.fail(ctx, err)
	}

	rv.Start()
	triggered := time.Now().UTC()
	attempt.TriggeredAt = &triggered
	attempt.Status = domain.AttemptStatusAwaiting
	run.progress(ctx, StageTriggered, "")
	s.record(ctx, lg, func(c context.Context) error { return s.attempts.Update(c, attempt) }, s.attempts != nil)
	run.progress(ctx, StageAwaiting, s.cfg.RendezvousDeadline.String())

	call, err := rv.Wait(ctx)
	if errors.Is(err, apperrors.ErrNoCallback) {
		run.finish(ctx, domain.AttemptStatusNoCallback, StageNoCallback, "")
		return &Outcome{AttemptID: attempt.ID}, nil
	}
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	attempt.InboundCallID = call.CallID()
	dialogue, err := call.Answer(ctx, req.ContentType, req.Body)
	if err != nil {
		return nil, run.fail(ctx, fmt.Errorf("answer inbound call %s: %w", call.CallID(), err))
	}

	run.finish(ctx, domain.AttemptStatusBridged, StageBridged, call.CallID())
	return &Outcome{AttemptID: attempt.ID, Dialogue: dialogue}, nil
}

// Get returns a stored attempt.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Attempt, error) {
	if s.attempts == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.attempts.Get(ctx, id)
}

// Timeline returns the recorded stages of an attempt.
func (s *Service) Timeline(ctx context.Context, id uuid.UUID) ([]domain.AttemptEvent, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.List(ctx, id, 0)
}

func (s *Service) predicateFor(req Request) (callback.Predicate, domain.MatchMode, error) {
	mode := domain.MatchModeForwarded
	if req.FromUserPattern != "" {
		mode = domain.MatchModeFromPattern
	}
	match, err := callback.NewPredicate(callback.MatchPolicy{
		ExpectedOwner:    req.Owner,
		ForwardingNumber: req.ForwardingDestination,
		FromUserPattern:  req.FromUserPattern,
		MarkerHeader:     s.cfg.MarkerHeader,
		PrefixLength:     s.cfg.PrefixLength,
	})
	if err != nil {
		return nil, "", err
	}
	return match, mode, nil
}

// record runs a persistence call on a context detached from the caller's
// cancellation. Failures are logged; history never changes an outcome.
func (s *Service) record(ctx context.Context, lg *zap.Logger, fn func(context.Context) error, enabled bool) {
	if !enabled {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(recCtx); err != nil {
		lg.Warn("record attempt", zap.Error(err))
	}
}

func validateRequest(req Request) error {
	var missing []string
	if req.Credentials.Identity == "" {
		missing = append(missing, "identity")
	}
	if req.Credentials.Secret == "" {
		missing = append(missing, "secret")
	}
	if strings.TrimSpace(req.ForwardingDestination) == "" {
		missing = append(missing, "forwarding destination")
	}
	if strings.TrimSpace(req.DialDestination) == "" {
		missing = append(missing, "dial destination")
	}
	if req.ContentType == "" {
		missing = append(missing, "content type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// run carries the per-attempt bookkeeping.
type run struct {
	svc     *Service
	req     Request
	attempt *domain.Attempt
	span    trace.Span
	log     *zap.Logger
	err     error
}

func (r *run) progress(ctx context.Context, stage Stage, detail string) {
	if r.req.Progress != nil {
		r.req.Progress(r.attempt.ID, stage)
	}
	r.span.AddEvent(string(stage))
	r.log.Debug("attempt progress", zap.String("stage", string(stage)))

	s := r.svc
	s.record(ctx, r.log, func(c context.Context) error {
		return s.events.Append(c, domain.AttemptEvent{
			AttemptID:  r.attempt.ID,
			Stage:      string(stage),
			Detail:     detail,
			OccurredAt: time.Now().UTC(),
		})
	}, s.events != nil)
}

func (r *run) fail(ctx context.Context, err error) error {
	r.err = err
	msg := err.Error()
	r.attempt.LastError = &msg
	r.attempt.ErrorKind = apperrors.Kind(err)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, r.attempt.ErrorKind)
	r.log.Warn("attempt failed", zap.String("kind", r.attempt.ErrorKind), zap.Error(err))

	r.finish(ctx, domain.AttemptStatusFailed, StageFailed, "")
	return fmt.Errorf("bridge: attempt %s: %w", r.attempt.ID, err)
}

func (r *run) finish(ctx context.Context, status domain.AttemptStatus, stage Stage, inboundCallID string) {
	now := time.Now().UTC()
	a := r.attempt
	a.Status = status
	a.UpdatedAt = now
	a.CompletedAt = &now
	if inboundCallID != "" {
		a.InboundCallID = inboundCallID
	}
	if status == domain.AttemptStatusNoCallback {
		a.ErrorKind = apperrors.Kind(apperrors.ErrNoCallback)
	}

	r.progress(ctx, stage, a.ErrorKind)
	r.span.SetAttributes(attribute.String("attempt.status", string(status)))
	r.log.Info("attempt finished",
		zap.String("status", string(status)),
		zap.Duration("elapsed", now.Sub(a.CreatedAt)),
	)

	s := r.svc
	s.record(ctx, r.log, func(c context.Context) error { return s.attempts.Update(c, a) }, s.attempts != nil)
	s.record(ctx, r.log, func(c context.Context) error {
		msg := queue.OutcomeMessage{
			AttemptID:             a.ID,
			Owner:                 a.Owner,
			ForwardingDestination: a.ForwardingDestination,
			DialDestination:       a.DialDestination,
			Outcome:               string(status),
			ErrorKind:             a.ErrorKind,
			InboundCallID:         a.InboundCallID,
			DurationMs:            now.Sub(a.CreatedAt).Milliseconds(),
			OccurredAt:            now,
		}
		if a.LastError != nil {
			msg.Error = *a.LastError
			msg.HTTPStatus = apperrors.StatusOf(r.err)
		}
		return s.publisher.PublishOutcome(c, msg)
	}, s.publisher != nil)
}
