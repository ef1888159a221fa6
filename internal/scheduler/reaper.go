// Package scheduler runs periodic maintenance for the bridge.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/queue"
	"github.com/acme/click-to-call-bridge/internal/repository"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// OutcomePublisher emits terminal outcomes.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg queue.OutcomeMessage) error
}

// Reaper closes attempts whose process died before they finished. An
// attempt is stale once it is older than the rendezvous deadline plus the
// configured grace and still not terminal.
type Reaper struct {
	store     repository.StaleAttemptStore
	publisher OutcomePublisher
	cfg       config.ReaperConfig
	maxAge    time.Duration
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewReaper constructs a reaper. publisher may be nil.
func NewReaper(store repository.StaleAttemptStore, publisher OutcomePublisher, cfg config.ReaperConfig, deadline time.Duration, lg *logger.Logger) *Reaper {
	return &Reaper{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		maxAge:    deadline + cfg.Grace,
		logger:    lg.Named("reaper"),
		tracer:    otel.Tracer("bridge.reaper"),
		now:       time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep expires one batch of stale attempts and reports how many it closed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "reaper.sweep")
	defer span.End()

	cutoff := r.now().UTC().Add(-r.maxAge)
	expired, err := r.store.ExpireStale(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("attempts.expired", len(expired)))
	if len(expired) == 0 {
		return 0, nil
	}

	r.logger.Warn("expired abandoned attempts", zap.Int("count", len(expired)), zap.Time("cutoff", cutoff))

	if r.publisher == nil {
		return len(expired), nil
	}
	for _, a := range expired {
		msg := queue.OutcomeMessage{
			AttemptID:             a.ID,
			Owner:                 a.Owner,
			ForwardingDestination: a.ForwardingDestination,
			DialDestination:       a.DialDestination,
			Outcome:               string(a.Status),
			ErrorKind:             a.ErrorKind,
			OccurredAt:            a.UpdatedAt,
		}
		if a.LastError != nil {
			msg.Error = *a.LastError
		}
		if a.CompletedAt != nil {
			msg.DurationMs = a.CompletedAt.Sub(a.CreatedAt).Milliseconds()
		}
		if err := r.publisher.PublishOutcome(ctx, msg); err != nil {
			r.logger.Warn("publish abandoned outcome", zap.String("attempt_id", a.ID.String()), zap.Error(err))
		}
	}
	return len(expired), nil
}
