// Package store persists the bounded run history in SQLite under the state
// directory. Runs are immutable once saved; the history is pruned oldest-
// first past the configured cap.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"autodev/internal/logging"
	"autodev/internal/types"
)

// Store wraps the history database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open initializes the SQLite database at path, creating the schema when
// absent.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("history store opened at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			status TEXT NOT NULL,
			branch TEXT,
			pr_url TEXT,
			summary TEXT,
			error TEXT,
			findings TEXT,
			improvements TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS agent_tasks (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			role TEXT NOT NULL,
			model TEXT,
			status TEXT NOT NULL,
			completed_at TIMESTAMP,
			description TEXT,
			error TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_tasks_run_id ON agent_tasks(run_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// SaveRun persists a completed run and prunes history beyond maxHistory
// (oldest evicted by start time). maxHistory <= 0 disables pruning.
func (s *Store) SaveRun(run *types.Run, maxHistory int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	improvements, err := json.Marshal(run.Improvements)
	if err != nil {
		return fmt.Errorf("failed to marshal improvements: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, started_at, finished_at, status, branch, pr_url, summary, error, findings, improvements)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, string(run.Status),
		run.Branch, run.PRURL, run.Summary, run.Error,
		string(findings), string(improvements),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, task := range run.AgentTasks {
		_, err = tx.Exec(
			`INSERT INTO agent_tasks (id, run_id, role, model, status, completed_at, description, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, run.ID, string(task.Role), task.Model, string(task.Status),
			task.CompletedAt, task.Description, task.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert agent task: %w", err)
		}
	}

	if maxHistory > 0 {
		_, err = tx.Exec(
			`DELETE FROM agent_tasks WHERE run_id IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?)`,
			maxHistory,
		)
		if err != nil {
			return fmt.Errorf("failed to prune agent tasks: %w", err)
		}
		_, err = tx.Exec(
			`DELETE FROM runs WHERE id IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?)`,
			maxHistory,
		)
		if err != nil {
			return fmt.Errorf("failed to prune runs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	logging.Store("saved run %s (%s)", run.ID, run.Status)
	return nil
}

// ListRuns returns up to limit runs, newest first, without agent tasks.
func (s *Store) ListRuns(limit int) ([]*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, status, branch, pr_url, summary, error, findings, improvements
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id, with its agent tasks, or nil when absent.
func (s *Store) GetRun(id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, status, branch, pr_url, summary, error, findings, improvements
		 FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	taskRows, err := s.db.Query(
		`SELECT id, role, model, status, completed_at, description, error
		 FROM agent_tasks WHERE run_id = ? ORDER BY completed_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var task types.AgentTask
		var role, status string
		if err := taskRows.Scan(&task.ID, &role, &task.Model, &status, &task.CompletedAt, &task.Description, &task.Error); err != nil {
			return nil, fmt.Errorf("failed to scan agent task: %w", err)
		}
		task.Role = types.AgentRole(role)
		task.Status = types.AgentTaskStatus(status)
		run.AgentTasks = append(run.AgentTasks, task)
	}
	return run, taskRows.Err()
}

// CountRunsSince counts runs started at or after the cutoff. The daily-run
// budget uses this to survive process restarts.
func (s *Store) CountRunsSince(cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE started_at >= ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRun(rows *sql.Rows) (*types.Run, error) {
	var run types.Run
	var status string
	var finished sql.NullTime
	var findings, improvements string

	err := rows.Scan(&run.ID, &run.StartedAt, &finished, &status,
		&run.Branch, &run.PRURL, &run.Summary, &run.Error, &findings, &improvements)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = types.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if findings != "" {
		if err := json.Unmarshal([]byte(findings), &run.Findings); err != nil {
			logging.StoreDebug("bad findings JSON for run %s: %v", run.ID, err)
		}
	}
	if improvements != "" {
		if err := json.Unmarshal([]byte(improvements), &run.Improvements); err != nil {
			logging.StoreDebug("bad improvements JSON for run %s: %v", run.ID, err)
		}
	}
	return &run, nil
}
