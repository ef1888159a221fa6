package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/click-to-call-bridge/internal/bridge"
	"github.com/acme/click-to-call-bridge/internal/domain"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

type stubBridge struct {
	outcome *bridge.Outcome
	err     error
	got     bridge.Request
	attempt *domain.Attempt
}

func (s *stubBridge) InitiateBridgedCall(_ context.Context, req bridge.Request) (*bridge.Outcome, error) {
	s.got = req
	return s.outcome, s.err
}

func (s *stubBridge) Get(_ context.Context, id uuid.UUID) (*domain.Attempt, error) {
	if s.attempt == nil || s.attempt.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return s.attempt, nil
}

func (s *stubBridge) Timeline(_ context.Context, id uuid.UUID) ([]domain.AttemptEvent, error) {
	return []domain.AttemptEvent{{AttemptID: id, Stage: "initiating", OccurredAt: time.Now()}}, nil
}

func newTestApp(b Bridger, checks map[string]HealthCheck) *fiber.App {
	h := New(b, checks, logger.NewNop())
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler})
	h.Register(app)
	return app
}

const postBody = `{"identity":"alice@example.com","secret":"pw","forwarding_destination":"15551234567",
"dial_destination":"18005550100","content_type":"application/sdp","body":"v=0"}`

func post(t *testing.T, app *fiber.App) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bridged-calls", strings.NewReader(postBody))
	req.Header.Set("Content-Type", "application/json")
	res, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res, body
}

func TestInitiateBridgedCallCreated(t *testing.T) {
	id := uuid.New()
	stub := &stubBridge{outcome: &bridge.Outcome{
		AttemptID: id,
		Dialogue:  &signaling.Dialogue{CallID: "in-1", ContentType: "application/sdp"},
	}}

	res, body := post(t, newTestApp(stub, nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	if body["outcome"] != "bridged" || body["attempt_id"] != id.String() {
		t.Fatalf("unexpected body %v", body)
	}
	if stub.got.Credentials.Identity != "alice@example.com" || string(stub.got.Body) != "v=0" {
		t.Fatalf("request not mapped: %+v", stub.got)
	}
	if stub.got.Progress == nil {
		t.Fatalf("progress hook not installed")
	}
}

func TestInitiateBridgedCallNoCallback(t *testing.T) {
	stub := &stubBridge{outcome: &bridge.Outcome{AttemptID: uuid.New()}}

	res, body := post(t, newTestApp(stub, nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if body["outcome"] != "no_callback" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["dialogue"]; ok {
		t.Fatalf("no dialogue expected")
	}
}

func TestInitiateBridgedCallErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", apperrors.ErrValidation), http.StatusBadRequest},
		{apperrors.NewStatusError(apperrors.ErrAuthenticationRejected, "authenticate", 403), http.StatusUnauthorized},
		{fmt.Errorf("login: %w", apperrors.ErrCallAuthTokenNotFound), http.StatusBadGateway},
		{apperrors.NewStatusError(apperrors.ErrCallRequestRejected, "call", 500), http.StatusBadGateway},
		{apperrors.ErrQuotaExceeded, http.StatusTooManyRequests},
		{apperrors.ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		res, body := post(t, newTestApp(&stubBridge{err: tc.err}, nil))
		if res.StatusCode != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, res.StatusCode)
		}
		if body["error"] == "" {
			t.Errorf("%v: error message missing", tc.err)
		}
	}
}

func TestGetBridgedCall(t *testing.T) {
	attempt := &domain.Attempt{ID: uuid.New(), Owner: "alice@example.com", Status: domain.AttemptStatusBridged}
	app := newTestApp(&stubBridge{attempt: attempt}, nil)

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/bridged-calls/"+attempt.ID.String(), nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var body attemptResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != domain.AttemptStatusBridged || len(body.Timeline) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}

	res, _ = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/bridged-calls/"+uuid.NewString(), nil), -1)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	res, _ = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/bridged-calls/nope", nil), -1)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	checks := map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}
	res, err := newTestApp(&stubBridge{}, checks).Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.StatusCode)
	}
}
