// Package history records finished runs in a SQLite database.
//
// A Store subscribes to a scheduler and writes one row per run and one row
// per settled resource when the run completes. It does not persist queue
// state; an interrupted run leaves no trace.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/warpdl/warpload/pkg/loadsched"
	"github.com/warpdl/warpload/pkg/logger"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    loaded      INTEGER NOT NULL,
    failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES runs(id),
    resource_id TEXT NOT NULL,
    kind        TEXT NOT NULL,
    priority    TEXT NOT NULL,
    status      TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    reason      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS outcomes_run ON outcomes(run_id);
`

// Outcome statuses.
const (
	StatusLoaded = "loaded"
	StatusFailed = "failed"
)

// ErrRunNotFound is returned by Outcomes for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Loaded     int
	Failed     int
}

// Outcome is the terminal state of one resource in a run.
type Outcome struct {
	RunID      string
	ResourceID string
	Kind       string
	Priority   string
	Status     string
	Attempts   int
	// Reason holds the final error of a failed resource.
	Reason string
}

// Store is a loadsched.Subscriber backed by SQLite.
type Store struct {
	db  *sql.DB
	log logger.Logger

	mu       sync.Mutex
	runID    string
	started  time.Time
	outcomes []Outcome
}

// Open opens (creating if needed) the history database at path.
func Open(path string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error: cannot open history database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across queries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error: failed to create history schema: %w", err)
	}
	return &Store{db: db, log: l}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunID returns the id of the run currently being observed, or of the last
// one if none is in progress.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// HandleEvent implements loadsched.Subscriber.
func (s *Store) HandleEvent(ev loadsched.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case loadsched.EventStart:
		s.runID = xid.New().String()
		s.started = ev.Time
		s.outcomes = nil
	case loadsched.EventLoad:
		s.outcomes = append(s.outcomes, s.outcome(ev, StatusLoaded, ""))
	case loadsched.EventError:
		reason := ""
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		s.outcomes = append(s.outcomes, s.outcome(ev, StatusFailed, reason))
	case loadsched.EventComplete:
		if s.runID == "" {
			return
		}
		run := Run{
			ID:         s.runID,
			StartedAt:  s.started,
			FinishedAt: ev.Time,
			Duration:   ev.Summary.Duration,
			Loaded:     len(ev.Summary.Success),
			Failed:     len(ev.Summary.Failed),
		}
		if err := s.record(context.Background(), run, s.outcomes); err != nil {
			s.log.Error("history: failed to record run %s: %v", run.ID, err)
			return
		}
		s.log.Debug("history: recorded run %s (%d outcomes)", run.ID, len(s.outcomes))
		s.outcomes = nil
	}
}

func (s *Store) outcome(ev loadsched.Event, status, reason string) Outcome {
	return Outcome{
		RunID:      s.runID,
		ResourceID: ev.Resource.ID,
		Kind:       string(ev.Resource.Kind),
		Priority:   ev.Resource.Priority.String(),
		Status:     status,
		Attempts:   ev.Attempt,
		Reason:     reason,
	}
}

func (s *Store) record(ctx context.Context, run Run, outcomes []Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO runs (id, started_at, finished_at, duration_ms, loaded, failed)
        VALUES (?, ?, ?, ?, ?, ?)
    `, run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Duration.Milliseconds(), run.Loaded, run.Failed)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO outcomes (run_id, resource_id, kind, priority, status, attempts, reason)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, run.ID, o.ResourceID, o.Kind, o.Priority, o.Status, o.Attempts, o.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Runs returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, started_at, finished_at, duration_ms, loaded, failed
        FROM runs
        ORDER BY started_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                             Run
			started, finished, durationMs int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &durationMs, &r.Loaded, &r.Failed); err != nil {
			return nil, fmt.Errorf("error: failed to scan run row: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate run rows: %w", err)
	}
	return runs, nil
}

// Outcomes returns the outcomes of a run in settle order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("error: failed to look up run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, resource_id, kind, priority, status, attempts, reason
        FROM outcomes
        WHERE run_id = ?
        ORDER BY seq ASC
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.RunID, &o.ResourceID, &o.Kind, &o.Priority, &o.Status, &o.Attempts, &o.Reason); err != nil {
			return nil, fmt.Errorf("error: failed to scan outcome row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error: failed to iterate outcome rows: %w", err)
	}
	return out, nil
}
