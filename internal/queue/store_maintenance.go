package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

const healthProbeTimeout = 2 * time.Second

// Stats counts tasks per status. Statuses with no tasks are absent.
func (s *Store) Stats(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM processing_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("task stats: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CheckHealth probes the database file and connection. The returned health is
// filled as far as the probes got, so callers can render partial results
// alongside the error.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("task database path is unknown")
	}
	switch info, err := os.Stat(s.path); {
	case errors.Is(err, fs.ErrNotExist):
		return health, nil
	case err != nil:
		return health, fmt.Errorf("stat task database: %w", err)
	case info.IsDir():
		return health, fmt.Errorf("task database path %q is a directory", s.path)
	}
	health.DatabaseExists = true
	if s.db == nil {
		return health, errors.New("task database connection unavailable")
	}

	probeCtx, cancel := context.WithTimeout(ensureContext(ctx), healthProbeTimeout)
	defer cancel()

	fail := func(step string, err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, fmt.Errorf("%s: %w", step, err)
	}
	if err := s.db.PingContext(probeCtx); err != nil {
		return fail("ping task database", err)
	}
	health.DatabaseReadable = true

	var integrity string
	probes := []struct {
		step  string
		query string
		dest  any
	}{
		{"read schema version", `SELECT version FROM schema_version LIMIT 1`, &health.SchemaVersion},
		{"count tasks", `SELECT COUNT(*) FROM processing_tasks`, &health.TotalTasks},
		{"integrity check", `PRAGMA integrity_check`, &integrity},
	}
	for _, p := range probes {
		if err := s.db.QueryRowContext(probeCtx, p.query).Scan(p.dest); err != nil {
			return fail(p.step, err)
		}
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
