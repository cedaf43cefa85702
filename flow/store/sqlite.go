package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps a run's step history and suspension record in a single-file
// database. Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments that must survive restarts
//   - Prototyping before migrating to MySQL or Postgres
//
// WAL mode is enabled so readers don't block behind the single writer.
//
// Schema:
//   - workflow_steps: step-by-step execution history
//   - workflow_suspensions: one live suspension per run
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./dev.db" - file in current directory
//   - "/tmp/workflow.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store creates the file and schema on first use, enables WAL mode and
// sets a 5 second busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore[flow.State]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create workflow_steps table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_steps_run_id ON workflow_steps(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_steps_run_id: %w", err)
	}

	suspensionsTable := `
		CREATE TABLE IF NOT EXISTS workflow_suspensions (
			run_id TEXT NOT NULL PRIMARY KEY,
			node TEXT NOT NULL,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			resumed_at TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, suspensionsTable); err != nil {
		return fmt.Errorf("failed to create workflow_suspensions table: %w", err)
	}
	return nil
}

// SaveStep persists one step of a run's history, overwriting an earlier
// save for the same run and step number.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO workflow_steps (run_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state
	`
	if _, err := s.db.ExecContext(ctx, query, runID, step, nodeID, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the state of a run's highest persisted step.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S
	if err := s.ensureOpen(); err != nil {
		return zero, 0, err
	}

	query := `
		SELECT step, state
		FROM workflow_steps
		WHERE run_id = ?
		ORDER BY step DESC
		LIMIT 1
	`
	var step int
	var stateJSON string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// SaveSuspension records the run's current suspension, superseding any
// earlier record for the same run.
func (s *SQLiteStore[S]) SaveSuspension(ctx context.Context, sus Suspension[S]) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(sus.State)
	if err != nil {
		return fmt.Errorf("failed to marshal suspension state: %w", err)
	}
	payloadJSON, err := json.Marshal(sus.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal suspension payload: %w", err)
	}

	query := `
		INSERT INTO workflow_suspensions (run_id, node, seq, state, payload, created_at, resumed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(run_id) DO UPDATE SET
			node = excluded.node,
			seq = excluded.seq,
			state = excluded.state,
			payload = excluded.payload,
			created_at = excluded.created_at,
			resumed_at = NULL
	`
	createdAt := sus.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, sus.RunID, sus.Node, sus.Seq, string(stateJSON), string(payloadJSON), createdAt); err != nil {
		return fmt.Errorf("failed to save suspension: %w", err)
	}
	return nil
}

// LoadSuspension retrieves the run's current suspension record.
func (s *SQLiteStore[S]) LoadSuspension(ctx context.Context, runID string) (Suspension[S], error) {
	var zero Suspension[S]
	if err := s.ensureOpen(); err != nil {
		return zero, err
	}

	query := `
		SELECT node, seq, state, payload, created_at, resumed_at
		FROM workflow_suspensions
		WHERE run_id = ?
	`
	var (
		sus         Suspension[S]
		stateJSON   string
		payloadJSON string
		resumedAt   sql.NullTime
	)
	sus.RunID = runID
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&sus.Node, &sus.Seq, &stateJSON, &payloadJSON, &sus.CreatedAt, &resumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load suspension: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &sus.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal suspension state: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &sus.Payload); err != nil {
		return zero, fmt.Errorf("failed to unmarshal suspension payload: %w", err)
	}
	if resumedAt.Valid {
		t := resumedAt.Time
		sus.ResumedAt = &t
	}
	return sus, nil
}

// MarkResumed consumes the suspension identified by runID and seq. The
// update is conditional on resumed_at being unset, so concurrent resume
// attempts collapse to one winner.
func (s *SQLiteStore[S]) MarkResumed(ctx context.Context, runID string, seq int) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_suspensions
		SET resumed_at = ?
		WHERE run_id = ? AND seq = ? AND resumed_at IS NULL
	`, time.Now().UTC(), runID, seq)
	if err != nil {
		return fmt.Errorf("failed to mark suspension resumed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish "already resumed" from "no such suspension".
	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflow_suspensions WHERE run_id = ? AND seq = ?",
		runID, seq).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check suspension: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrAlreadyResumed
}

// Close closes the database connection. Operations after Close fail.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

func (s *SQLiteStore[S]) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
