package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/click-to-call-bridge/internal/domain"
)

func TestEventIDDistinctForSameInstant(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a, b := eventID(at), eventID(at)
	if a == b {
		t.Fatalf("expected distinct ids for one instant, got %s twice", a)
	}
	if !a.Time().Equal(at) || !b.Time().Equal(at) {
		t.Fatalf("ids must carry the event time: %v %v", a.Time(), b.Time())
	}
}

// newTestSession connects to BRIDGE_TEST_SCYLLA_HOSTS and prepares a
// scratch keyspace, or skips.
func newTestSession(t *testing.T) *gocql.Session {
	t.Helper()
	hosts := os.Getenv("BRIDGE_TEST_SCYLLA_HOSTS")
	if hosts == "" {
		t.Skip("BRIDGE_TEST_SCYLLA_HOSTS not set")
	}

	cluster := gocql.NewCluster(strings.Split(hosts, ",")...)
	cluster.Timeout = 10 * time.Second
	admin, err := cluster.CreateSession()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer admin.Close()
	if err := admin.Query(`CREATE KEYSPACE IF NOT EXISTS bridge_test
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`).Exec(); err != nil {
		t.Fatalf("create keyspace: %v", err)
	}

	cluster.Keyspace = "bridge_test"
	session, err := cluster.CreateSession()
	if err != nil {
		t.Fatalf("connect keyspace: %v", err)
	}
	t.Cleanup(session.Close)

	schema, err := os.ReadFile("../../../migrations/002_attempt_events.cql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if err := session.Query(string(schema)).Exec(); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return session
}

func TestEventStoreKeepsEventsSharingATimestamp(t *testing.T) {
	store := NewEventStore(newTestSession(t))
	ctx := context.Background()
	attemptID := uuid.New()
	at := time.Now().UTC().Truncate(time.Millisecond)

	for _, stage := range []string{"triggered", "awaiting_callback"} {
		if err := store.Append(ctx, domain.AttemptEvent{AttemptID: attemptID, Stage: stage, OccurredAt: at}); err != nil {
			t.Fatalf("append %s: %v", stage, err)
		}
	}

	events, err := store.List(ctx, attemptID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected both events, got %d", len(events))
	}
	if events[0].Stage != "triggered" || events[1].Stage != "awaiting_callback" {
		t.Fatalf("unexpected order %s, %s", events[0].Stage, events[1].Stage)
	}
}
