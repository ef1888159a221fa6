package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/click-to-call-bridge/internal/domain"
	"github.com/acme/click-to-call-bridge/internal/repository"
)

// AttemptRepository implements repository.AttemptRepository using PostgreSQL.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository constructs a new repository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

type attemptRecord struct {
	ID                    uuid.UUID      `db:"id"`
	Owner                 string         `db:"owner"`
	ForwardingDestination string         `db:"forwarding_destination"`
	DialDestination       string         `db:"dial_destination"`
	MatchMode             string         `db:"match_mode"`
	Status                string         `db:"status"`
	ErrorKind             sql.NullString `db:"error_kind"`
	LastError             sql.NullString `db:"last_error"`
	InboundCallID         sql.NullString `db:"inbound_call_id"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
	TriggeredAt           sql.NullTime   `db:"triggered_at"`
	CompletedAt           sql.NullTime   `db:"completed_at"`
}

func (r attemptRecord) toDomain() domain.Attempt {
	a := domain.Attempt{
		ID:                    r.ID,
		Owner:                 r.Owner,
		ForwardingDestination: r.ForwardingDestination,
		DialDestination:       r.DialDestination,
		MatchMode:             domain.MatchMode(r.MatchMode),
		Status:                domain.AttemptStatus(r.Status),
		ErrorKind:             r.ErrorKind.String,
		InboundCallID:         r.InboundCallID.String,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.LastError.Valid {
		msg := r.LastError.String
		a.LastError = &msg
	}
	if r.TriggeredAt.Valid {
		ts := r.TriggeredAt.Time
		a.TriggeredAt = &ts
	}
	if r.CompletedAt.Valid {
		ts := r.CompletedAt.Time
		a.CompletedAt = &ts
	}
	return a
}

func attemptParams(a *domain.Attempt) map[string]any {
	return map[string]any{
		"id":                     a.ID,
		"owner":                  a.Owner,
		"forwarding_destination": a.ForwardingDestination,
		"dial_destination":       a.DialDestination,
		"match_mode":             string(a.MatchMode),
		"status":                 string(a.Status),
		"error_kind":             nullString(a.ErrorKind),
		"last_error":             a.LastError,
		"inbound_call_id":        nullString(a.InboundCallID),
		"created_at":             a.CreatedAt,
		"updated_at":             a.UpdatedAt,
		"triggered_at":           a.TriggeredAt,
		"completed_at":           a.CompletedAt,
	}
}

// Create inserts a new attempt.
func (r *AttemptRepository) Create(ctx context.Context, attempt *domain.Attempt) error {
	q := `INSERT INTO bridge_attempts (
		id, owner, forwarding_destination, dial_destination, match_mode, status,
		error_kind, last_error, inbound_call_id, created_at, updated_at, triggered_at, completed_at
	) VALUES (
		:id, :owner, :forwarding_destination, :dial_destination, :match_mode, :status,
		:error_kind, :last_error, :inbound_call_id, :created_at, :updated_at, :triggered_at, :completed_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, attemptParams(attempt)); err != nil {
		return fmt.Errorf("attempt repo: insert: %w", err)
	}
	return nil
}

const attemptColumns = `id, owner, forwarding_destination, dial_destination, match_mode, status,
	error_kind, last_error, inbound_call_id, created_at, updated_at, triggered_at, completed_at`

const updateAttemptSQL = `UPDATE bridge_attempts SET
	status = :status,
	error_kind = :error_kind,
	last_error = :last_error,
	inbound_call_id = :inbound_call_id,
	updated_at = :updated_at,
	triggered_at = :triggered_at,
	completed_at = :completed_at
 WHERE id = :id`

// Update persists status and outcome fields.
func (r *AttemptRepository) Update(ctx context.Context, attempt *domain.Attempt) error {
	res, err := r.db.NamedExecContext(ctx, updateAttemptSQL, attemptParams(attempt))
	if err != nil {
		return fmt.Errorf("attempt repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attempt repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Get fetches an attempt by id.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM bridge_attempts WHERE id = $1`

	var record attemptRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("attempt repo: get: %w", err)
	}

	attempt := record.toDomain()
	return &attempt, nil
}

// ExpireStale marks non-terminal attempts created before createdBefore as
// failed and returns them. Rows locked by another sweeper are skipped.
func (r *AttemptRepository) ExpireStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM bridge_attempts
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED`

	var expired []domain.Attempt
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var records []attemptRecord
		if err := tx.SelectContext(ctx, &records, q,
			string(domain.AttemptStatusPending), string(domain.AttemptStatusAwaiting), createdBefore, limit,
		); err != nil {
			return fmt.Errorf("attempt repo: select stale: %w", err)
		}

		now := time.Now().UTC()
		reason := "attempt abandoned before completion"
		for _, rec := range records {
			a := rec.toDomain()
			a.Status = domain.AttemptStatusFailed
			a.ErrorKind = domain.ErrorKindAbandoned
			a.LastError = &reason
			a.UpdatedAt = now
			a.CompletedAt = &now
			if _, err := tx.NamedExecContext(ctx, updateAttemptSQL, attemptParams(&a)); err != nil {
				return fmt.Errorf("attempt repo: expire %s: %w", a.ID, err)
			}
			expired = append(expired, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
