package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"github.com/acme/click-to-call-bridge/internal/config"
)

// Scylla holds the session used for attempt timelines.
type Scylla struct {
	session *gocql.Session
}

// NewScylla connects to the timeline keyspace.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency(cfg.Consistency)
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	// Timeline writes are best effort; a single retry is enough.
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 1}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}
	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Ping runs a trivial query against system.local.
func (s *Scylla) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

// Close shuts the session down.
func (s *Scylla) Close() {
	if s.session != nil {
		s.session.Close()
	}
}

func consistency(level string) gocql.Consistency {
	switch strings.ToLower(level) {
	case "one":
		return gocql.One
	case "local_one":
		return gocql.LocalOne
	case "quorum":
		return gocql.Quorum
	default:
		return gocql.LocalQuorum
	}
}
