package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/click-to-call-bridge/internal/domain"
)

// EventStore persists attempt timelines in Scylla, partitioned by attempt.
type EventStore struct {
	session *gocql.Session
}

// NewEventStore creates a new event store.
func NewEventStore(session *gocql.Session) *EventStore {
	return &EventStore{session: session}
}

// Append writes one timeline entry. Rows cluster on a timeuuid derived
// from OccurredAt, so entries sharing a millisecond stay distinct.
func (s *EventStore) Append(ctx context.Context, event domain.AttemptEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.session.Query(`INSERT INTO attempt_events (attempt_id, event_id, occurred_at, stage, detail)
		VALUES (?, ?, ?, ?, ?)`,
		event.AttemptID.String(), eventID(event.OccurredAt), event.OccurredAt, event.Stage, event.Detail,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("event store: append: %w", err)
	}
	return nil
}

// List returns the timeline of an attempt in order.
func (s *EventStore) List(ctx context.Context, attemptID uuid.UUID, limit int) ([]domain.AttemptEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT occurred_at, stage, detail FROM attempt_events
		WHERE attempt_id = ? ORDER BY event_id ASC LIMIT ?`,
		attemptID.String(), limit,
	).WithContext(ctx).Iter()

	events := make([]domain.AttemptEvent, 0, 8)
	var (
		occurred time.Time
		stage    string
		detail   string
	)
	for iter.Scan(&occurred, &stage, &detail) {
		events = append(events, domain.AttemptEvent{
			AttemptID:  attemptID,
			Stage:      stage,
			Detail:     detail,
			OccurredAt: occurred,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("event store: iter close: %w", err)
	}
	return events, nil
}

// eventID returns a fresh timeuuid for t. Calls with the same t differ in
// their clock sequence.
func eventID(t time.Time) gocql.UUID {
	return gocql.UUIDFromTime(t)
}
