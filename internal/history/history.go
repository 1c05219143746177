// Package history persists build-run records so past runs survive process
// restarts and can be listed from the CLI.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one persisted build run.
type RunRecord struct {
	RunID      string
	Ref        string
	State      string
	Outcome    string
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store persists run records in SQLite.
// Use ":memory:" for an in-memory database, or a file path for persistence.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (and if needed initializes) the run-history database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		ref TEXT NOT NULL,
		state TEXT NOT NULL,
		outcome TEXT,
		detail TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordStart inserts a new run in its initial state.
func (s *Store) RecordStart(ctx context.Context, runID, ref, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, ref, state, started_at) VALUES (?, ?, ?, ?)",
		runID, ref, state, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateState records a state transition for a run.
func (s *Store) UpdateState(ctx context.Context, runID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET state = ? WHERE run_id = ?", state, runID)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return nil
}

// RecordFinish marks a run terminal with its outcome and optional detail.
func (s *Store) RecordFinish(ctx context.Context, runID, state, outcome, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET state = ?, outcome = ?, detail = ?, finished_at = ? WHERE run_id = ?",
		state, outcome, detail, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, ref, state, outcome, detail, started_at, finished_at FROM runs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var outcome, detail sql.NullString
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Ref, &r.State, &outcome, &detail, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = outcome.String
		r.Detail = detail.String
		r.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			r.FinishedAt = time.Unix(finishedAt.Int64, 0)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r RunRecord
	var outcome, detail sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, ref, state, outcome, detail, started_at, finished_at FROM runs WHERE run_id = ?",
		runID,
	).Scan(&r.RunID, &r.Ref, &r.State, &outcome, &detail, &startedAt, &finishedAt)
	if err != nil {
		return RunRecord{}, fmt.Errorf("query run: %w", err)
	}
	r.Outcome = outcome.String
	r.Detail = detail.String
	r.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		r.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	return r, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
