package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/app"
	"github.com/acme/click-to-call-bridge/internal/bridge"
	"github.com/acme/click-to-call-bridge/internal/domain"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// Bridger is the bridge service as seen by the HTTP layer.
type Bridger interface {
	InitiateBridgedCall(ctx context.Context, req bridge.Request) (*bridge.Outcome, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Attempt, error)
	Timeline(ctx context.Context, id uuid.UUID) ([]domain.AttemptEvent, error)
}

// HealthCheck probes one backing store.
type HealthCheck func(ctx context.Context) error

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	bridge Bridger
	checks map[string]HealthCheck
	logger *logger.Logger
}

// NewHandlerSet creates handlers backed by the container's services.
func NewHandlerSet(container *app.Container) *HandlerSet {
	checks := map[string]HealthCheck{}
	if container.Postgres != nil {
		checks["postgres"] = container.Postgres.Ping
	}
	if container.Redis != nil {
		checks["redis"] = container.Redis.Ping
	}
	if container.Scylla != nil {
		checks["scylla"] = container.Scylla.Ping
	}
	return New(container.Services().Bridge, checks, container.Logger)
}

// New creates a handler set from explicit dependencies.
func New(b Bridger, checks map[string]HealthCheck, lg *logger.Logger) *HandlerSet {
	return &HandlerSet{bridge: b, checks: checks, logger: lg.Named("api")}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	v1 := app.Group("/api").Group("/v1")

	calls := v1.Group("/bridged-calls")
	calls.Post("/", h.initiateBridgedCall)
	calls.Get("/:id", h.getBridgedCall)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.WithContext(ctx.UserContext()).Error("request failed",
			zap.String("path", ctx.Path()), zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status, label := fiber.StatusOK, "ok"
	if len(errs) > 0 {
		status, label = fiber.StatusServiceUnavailable, "degraded"
	}
	return ctx.Status(status).JSON(fiber.Map{"status": label, "errors": errs})
}
