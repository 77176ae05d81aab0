// Package store keeps a SQLite history of harness runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pagerun/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one recorded harness invocation.
type Run struct {
	ID           string
	Target       string
	URL          string
	FinalState   string
	ExitCode     int
	Failures     string // formatted raw value, "missing" when never read
	Error        string
	ConsoleLines int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HistoryStore records runs in SQLite.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	logger *zap.Logger
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*HistoryStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	s := &HistoryStore{db: db, dbPath: path, logger: logging.Get(logging.CategoryStore)}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *HistoryStore) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		url TEXT NOT NULL,
		final_state TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		failures TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		console_lines INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_target_started ON runs(target, started_at);
	`
	// Refuse a newer schema before touching it.
	if GetSchemaVersion(s.db) > CurrentSchemaVersion {
		return migrate(s.db, s.logger)
	}
	if _, err := s.db.Exec(runsTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return migrate(s.db, s.logger)
}

// Path returns the database file path.
func (s *HistoryStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Record stores a run, assigning an ID if it has none, and returns the ID.
func (s *HistoryStore) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, target, url, final_state, exit_code, failures, error, console_lines, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, run.URL, run.FinalState, run.ExitCode, run.Failures, run.Error,
		run.ConsoleLines, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	s.logger.Debug("run recorded", zap.String("id", run.ID), zap.Int("exit_code", run.ExitCode))
	return run.ID, nil
}

const selectRun = `
	SELECT id, target, url, final_state, exit_code, failures, error, console_lines, started_at, finished_at
	FROM runs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var started, finished int64
	if err := row.Scan(&r.ID, &r.Target, &r.URL, &r.FinalState, &r.ExitCode, &r.Failures,
		&r.Error, &r.ConsoleLines, &started, &finished); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	return r, nil
}

// Get returns a single run.
func (s *HistoryStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to read run: %w", err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first. An empty target matches all.
func (s *HistoryStore) Recent(ctx context.Context, target string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if target == "" {
		rows, err = s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectRun+` WHERE target = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`, target, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune keeps the newest keep runs per target and deletes the rest.
// keep <= 0 disables pruning.
func (s *HistoryStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE rowid IN (
			SELECT rowid FROM (
				SELECT rowid, ROW_NUMBER() OVER (
					PARTITION BY target ORDER BY started_at DESC, rowid DESC
				) AS rn FROM runs
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("pruned runs", zap.Int64("deleted", n))
	}
	return n, nil
}
