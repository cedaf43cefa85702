package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for deployments where the worker that resumes a run is not the
// worker that suspended it: multiple processes share the database, and the
// conditional resumed-at update arbitrates racing resume calls.
//
// Schema:
//   - workflow_steps: step-by-step execution history
//   - workflow_suspensions: one live suspension per run
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN format follows the go-sql-driver convention:
//
//	user:password@tcp(localhost:3306)/workflows?parseTime=true
//
// parseTime=true is required so timestamp columns scan into time.Time.
// Credentials belong in the environment, not in source:
//
//	st, err := store.NewMySQLStore[flow.State](os.Getenv("MYSQL_DSN"))
//
// The store verifies connectivity, configures pooling and creates the
// schema on first use.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_run_step (run_id, step),
			KEY idx_steps_run_id (run_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create workflow_steps table: %w", err)
	}

	suspensionsTable := `
		CREATE TABLE IF NOT EXISTS workflow_suspensions (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			node VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			state JSON NOT NULL,
			payload JSON NOT NULL,
			created_at TIMESTAMP NOT NULL,
			resumed_at TIMESTAMP NULL DEFAULT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, suspensionsTable); err != nil {
		return fmt.Errorf("failed to create workflow_suspensions table: %w", err)
	}
	return nil
}

// SaveStep persists one step of a run's history.
func (s *MySQLStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
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
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state)
	`
	if _, err := s.db.ExecContext(ctx, query, runID, step, nodeID, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the state of a run's highest persisted step.
func (s *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
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

// SaveSuspension records the run's current suspension.
func (s *MySQLStore[S]) SaveSuspension(ctx context.Context, sus Suspension[S]) error {
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

	createdAt := sus.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_suspensions (run_id, node, seq, state, payload, created_at, resumed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON DUPLICATE KEY UPDATE
			node = VALUES(node),
			seq = VALUES(seq),
			state = VALUES(state),
			payload = VALUES(payload),
			created_at = VALUES(created_at),
			resumed_at = NULL
	`
	if _, err := s.db.ExecContext(ctx, query, sus.RunID, sus.Node, sus.Seq, string(stateJSON), string(payloadJSON), createdAt); err != nil {
		return fmt.Errorf("failed to save suspension: %w", err)
	}
	return nil
}

// LoadSuspension retrieves the run's current suspension record.
func (s *MySQLStore[S]) LoadSuspension(ctx context.Context, runID string) (Suspension[S], error) {
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

// MarkResumed consumes the suspension identified by runID and seq.
func (s *MySQLStore[S]) MarkResumed(ctx context.Context, runID string, seq int) error {
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

// Close closes the database connection pool.
func (s *MySQLStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *MySQLStore[S]) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
