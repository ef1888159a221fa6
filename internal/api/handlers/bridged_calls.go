package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/bridge"
	"github.com/acme/click-to-call-bridge/internal/domain"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/internal/telephony"
)

type bridgedCallRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
	// Owner is the SIP user@host the forwarded call arrives for. Required
	// when it differs from the login identity.
	Owner                 string `json:"owner"`
	ForwardingDestination string `json:"forwarding_destination"`
	DialDestination       string `json:"dial_destination"`
	FromUserPattern       string `json:"from_user_pattern"`
	ContentType           string `json:"content_type"`
	Body                  string `json:"body"`
}

type bridgedCallResponse struct {
	AttemptID uuid.UUID           `json:"attempt_id"`
	Outcome   string              `json:"outcome"`
	Dialogue  *signaling.Dialogue `json:"dialogue,omitempty"`
}

type attemptResponse struct {
	ID                    uuid.UUID            `json:"id"`
	Owner                 string               `json:"owner"`
	ForwardingDestination string               `json:"forwarding_destination"`
	DialDestination       string               `json:"dial_destination"`
	MatchMode             domain.MatchMode     `json:"match_mode"`
	Status                domain.AttemptStatus `json:"status"`
	ErrorKind             string               `json:"error_kind,omitempty"`
	LastError             *string              `json:"last_error,omitempty"`
	InboundCallID         string               `json:"inbound_call_id,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	TriggeredAt           *time.Time           `json:"triggered_at,omitempty"`
	CompletedAt           *time.Time           `json:"completed_at,omitempty"`
	Timeline              []timelineEntry      `json:"timeline"`
}

type timelineEntry struct {
	Stage      string    `json:"stage"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *HandlerSet) initiateBridgedCall(ctx *fiber.Ctx) error {
	var req bridgedCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	lg := h.logger.WithContext(ctx.UserContext())
	out, err := h.bridge.InitiateBridgedCall(ctx.UserContext(), bridge.Request{
		Credentials:           telephony.Credentials{Identity: req.Identity, Secret: req.Secret},
		Owner:                 req.Owner,
		ForwardingDestination: req.ForwardingDestination,
		DialDestination:       req.DialDestination,
		FromUserPattern:       req.FromUserPattern,
		ContentType:           req.ContentType,
		Body:                  []byte(req.Body),
		Progress: func(id uuid.UUID, stage bridge.Stage) {
			lg.Debug("bridged call progress", zap.String("attempt_id", id.String()), zap.String("stage", string(stage)))
		},
	})
	if err != nil {
		return translateError(err)
	}

	if out.Dialogue == nil {
		return ctx.Status(http.StatusOK).JSON(bridgedCallResponse{
			AttemptID: out.AttemptID,
			Outcome:   string(domain.AttemptStatusNoCallback),
		})
	}
	return ctx.Status(http.StatusCreated).JSON(bridgedCallResponse{
		AttemptID: out.AttemptID,
		Outcome:   string(domain.AttemptStatusBridged),
		Dialogue:  out.Dialogue,
	})
}

func (h *HandlerSet) getBridgedCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid attempt id")
	}

	attempt, err := h.bridge.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	events, err := h.bridge.Timeline(ctx.UserContext(), id)
	if err != nil {
		h.logger.WithContext(ctx.UserContext()).Warn("load attempt timeline", zap.Error(err))
	}

	return ctx.Status(http.StatusOK).JSON(toAttemptResponse(attempt, events))
}

func toAttemptResponse(a *domain.Attempt, events []domain.AttemptEvent) attemptResponse {
	timeline := make([]timelineEntry, 0, len(events))
	for _, e := range events {
		timeline = append(timeline, timelineEntry{Stage: e.Stage, Detail: e.Detail, OccurredAt: e.OccurredAt})
	}
	return attemptResponse{
		ID:                    a.ID,
		Owner:                 a.Owner,
		ForwardingDestination: a.ForwardingDestination,
		DialDestination:       a.DialDestination,
		MatchMode:             a.MatchMode,
		Status:                a.Status,
		ErrorKind:             a.ErrorKind,
		LastError:             a.LastError,
		InboundCallID:         a.InboundCallID,
		CreatedAt:             a.CreatedAt,
		TriggeredAt:           a.TriggeredAt,
		CompletedAt:           a.CompletedAt,
		Timeline:              timeline,
	}
}
