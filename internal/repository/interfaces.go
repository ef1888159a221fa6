package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/click-to-call-bridge/internal/domain"
	apperrors "github.com/acme/click-to-call-bridge/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// AttemptRepository stores attempt summaries.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.Attempt) error
	Update(ctx context.Context, attempt *domain.Attempt) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Attempt, error)
}

// AttemptEventStore keeps the per-attempt timeline.
type AttemptEventStore interface {
	Append(ctx context.Context, event domain.AttemptEvent) error
	List(ctx context.Context, attemptID uuid.UUID, limit int) ([]domain.AttemptEvent, error)
}

// StaleAttemptStore closes attempts that never reached a terminal status.
type StaleAttemptStore interface {
	ExpireStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Attempt, error)
}
